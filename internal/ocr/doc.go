// Package ocr reads handwritten or printed fields around an answer sheet
// using Tesseract.
//
// This package wraps the Tesseract OCR engine (via gosseract/v2). Templates
// name rectangular regions on the outside image (the raw photo with the sheet
// blacked out); ReadFields crops each one, binarizes it and recognizes the
// text, and CleanField normalizes the result by field name.
//
// # Prerequisites
//
// Tesseract must be installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr libtesseract-dev
//   - macOS: brew install tesseract
//
// Language data files are required for each language:
//   - Ubuntu/Debian: apt-get install tesseract-ocr-eng (for English)
//   - Other languages: tesseract-ocr-<lang> packages, e.g. tesseract-ocr-vie
//
// # Performance Considerations
//
// OCR is computationally expensive compared to bubble decisions. Keep
// regions tight; the batch runner reads fields only when the template
// declares them.
package ocr
