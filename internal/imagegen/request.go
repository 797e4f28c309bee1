package imagegen

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Txt2ImgRequest covers the txt2img parameters used most often. Anything else
// can be passed through Extra; keys in Extra win over the typed fields.
type Txt2ImgRequest struct {
	Prompt           string         `json:"prompt"`
	NegativePrompt   string         `json:"negative_prompt,omitempty"`
	Steps            int            `json:"steps,omitempty"`
	CFGScale         float64        `json:"cfg_scale,omitempty"`
	Width            int            `json:"width,omitempty"`
	Height           int            `json:"height,omitempty"`
	BatchSize        int            `json:"batch_size,omitempty"`
	NIter            int            `json:"n_iter,omitempty"`
	Seed             *int64         `json:"seed,omitempty"`
	SamplerName      string         `json:"sampler_name,omitempty"`
	RestoreFaces     bool           `json:"restore_faces,omitempty"`
	OverrideSettings map[string]any `json:"override_settings,omitempty"`
	Extra            map[string]any `json:"-"`
}

// Payload converts the request into the map sent on the wire.
func (r Txt2ImgRequest) Payload() (Payload, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode txt2img request: %w", err)
	}

	p := Payload{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to encode txt2img request: %w", err)
	}
	for k, v := range r.Extra {
		p[k] = v
	}
	return p, nil
}
