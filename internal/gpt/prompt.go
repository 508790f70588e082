package gpt

import "fmt"

func analysisPrompt(productName string) string {
	return fmt.Sprintf(`Analyze this product image in detail. Describe:
1. Product type (clothing, accessory, etc.)
2. Color(s) - be very specific
3. Style and design details
4. Material/texture appearance
5. Any patterns or decorations
6. Key features that make it unique

Product name for reference: %s

Provide a detailed, objective description that can be used to recreate this product in a new photo setting.`, productName)
}

func composePrompt(analysis, style string) string {
	return fmt.Sprintf(`Create a professional product photograph with the following specifications:

PRODUCT DETAILS (from existing image):
%s

PHOTOGRAPHY STYLE:
%s

Requirements:
- Maintain exact product appearance (colors, design, details)
- Professional photography quality
- Photorealistic, high resolution
- Focus on showcasing the product`, analysis, style)
}
