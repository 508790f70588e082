package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fedutinova/shopgen/internal/common"
)

const DefaultTemplate = "ecommerce_white"

// Templates are the built-in photography styles, keyed by name. %s is the
// product name.
var Templates = map[string]string{
	"ecommerce_white": "Professional e-commerce product photography of %s, clean white background, studio lighting, high resolution, centered composition, perfect for online store, photorealistic, 8K quality",
	"female_model":    "Beautiful young female model wearing or holding %s, professional fashion photography, elegant pose, natural lighting, lifestyle setting, modern and trendy, photorealistic, magazine quality, 8K",
	"lifestyle":       "%s in a beautiful lifestyle setting, natural environment, warm lighting, cozy atmosphere, real-life usage scenario, inviting and aspirational, photorealistic, 8K quality",
	"studio_premium":  "Luxury studio photography of %s, dramatic lighting, elegant composition, high-end fashion aesthetic, soft shadows, premium quality feel, photorealistic, professional advertising style, 8K",
	"minimalist":      "Minimalist product photography of %s, simple composition, neutral tones, clean lines, modern aesthetic, soft natural light, elegant simplicity, photorealistic, 8K quality",
	"luxury_fashion":  "High-end luxury fashion photography of %s, sophisticated model, glamorous setting, dramatic lighting, editorial style, vogue magazine aesthetic, ultra-premium feel, photorealistic, 8K quality",
}

// TemplateNames lists the known templates, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(Templates))
	for k := range Templates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// BuildPrompt renders the final prompt. An explicit prompt without a template
// is used as is; with a template it is appended as extra direction.
func BuildPrompt(template, prompt, productName string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if template == "" {
		if prompt != "" {
			return prompt, nil
		}
		template = DefaultTemplate
	}

	tpl, ok := Templates[template]
	if !ok {
		return "", common.InvalidInput("unknown template %q", template)
	}
	name := strings.TrimSpace(productName)
	if name == "" {
		if prompt == "" {
			return "", common.InvalidInput("prompt or product_name is required")
		}
		name = "the product"
	}

	out := fmt.Sprintf(tpl, name)
	if prompt != "" {
		out += ". " + prompt
	}
	return out, nil
}
