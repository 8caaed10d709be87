package pipeline

// ImageGuidanceText describes what an image needs before its text can be
// analyzed. No OCR happens inside the pipeline.
const ImageGuidanceText = `This document is an image. Text has to be recognized (OCR) before it can be analyzed.
For good recognition results:
- use a resolution of at least 300 DPI, or a sharp photo taken straight on
- make sure the text contrasts clearly with the background, with no shadows or glare
- rotate the page upright so the lines of text are horizontal
- crop to a single page per image
Then submit the recognized text, or enter the transactions manually.`

// ImageGuidance returns the guidance document for image uploads.
func ImageGuidance() ExtractedText {
	return ExtractedText{
		Text:           ImageGuidanceText,
		PageCount:      1,
		IsGuidanceOnly: true,
	}
}
