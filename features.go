/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package forge

import (
	"fmt"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

const (
	maxPromptLength = 2000
	mib             = 1 << 20
)

var (
	imageTypes = []string{"image/jpeg", "image/png", "image/webp"}
	mediaTypes = []string{"image/jpeg", "image/png", "image/webp", "audio/mpeg", "audio/wav", "audio/x-wav", "audio/mp4", "video/mp4", "video/quicktime"}
)

// UploadRule bounds the files a feature accepts through the upload endpoint.
type UploadRule struct {
	ContentTypes []string
	MaxBytes     int64
}

// Allows reports whether a file with the given content type and size may be stored.
func (r UploadRule) Allows(contentType string, size int64) error {
	if size <= 0 {
		return fmt.Errorf("file is empty")
	}
	if size > r.MaxBytes {
		return fmt.Errorf("file exceeds %d bytes", r.MaxBytes)
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, allowed := range r.ContentTypes {
		if mediaType == allowed {
			return nil
		}
	}
	return fmt.Errorf("content type %q is not accepted", mediaType)
}

// UsagePolicy charges for output longer than what the admission cost covers.
type UsagePolicy struct {
	CreditsPerSecond decimal.Decimal
	IncludedSeconds  decimal.Decimal
}

func (p UsagePolicy) Enabled() bool {
	return p.CreditsPerSecond.IsPositive()
}

// ExtraCredits returns ceil(max(0, duration - included) * rate). Durations are capped at
// model.MaxDurationSeconds; non-finite durations charge nothing.
func (p UsagePolicy) ExtraCredits(durationSeconds float64) int64 {
	if !p.Enabled() || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0
	}
	durationSeconds = math.Min(durationSeconds, model.MaxDurationSeconds)
	billable := decimal.NewFromFloat(durationSeconds).Sub(p.IncludedSeconds)
	if !billable.IsPositive() {
		return 0
	}
	return billable.Mul(p.CreditsPerSecond).Ceil().IntPart()
}

// FeatureDescriptor carries everything that differs between generation products.
type FeatureDescriptor struct {
	Kind       model.FeatureKind `json:"feature_kind"`
	Cost       int64             `json:"cost"`
	WorkerPath string            `json:"-"`
	Disabled   bool              `json:"-"`

	// Input lists the accepted input keys. Keys not listed are rejected.
	Input           []*validation.KeyRules `json:"-"`
	ProjectedFields []string               `json:"-"`
	Upload          *UploadRule            `json:"-"`

	RefundOnDispatchFailure bool          `json:"-"`
	RefundOnWorkerFailure   bool          `json:"-"`
	RefundOnExpiry          bool          `json:"-"`
	ExpiryAfter             time.Duration `json:"-"`
	Usage                   UsagePolicy   `json:"-"`
}

// ValidateInput checks input against the feature schema.
func (d *FeatureDescriptor) ValidateInput(input map[string]interface{}) error {
	if input == nil {
		input = map[string]interface{}{}
	}
	return validation.Validate(input, validation.Map(d.Input...))
}

func promptKey(required bool) *validation.KeyRules {
	rules := []validation.Rule{validation.Length(1, maxPromptLength)}
	if required {
		return validation.Key("prompt", append([]validation.Rule{validation.Required}, rules...)...)
	}
	return validation.Key("prompt", rules...).Optional()
}

func urlKey(key string, required bool) *validation.KeyRules {
	if required {
		return validation.Key(key, validation.Required, is.URL)
	}
	return validation.Key(key, is.URL).Optional()
}

func oneOfKey(key string, values ...interface{}) *validation.KeyRules {
	return validation.Key(key, validation.In(values...)).Optional()
}

// builtinFeatures returns the default catalog. Costs are in credits.
func builtinFeatures() map[model.FeatureKind]*FeatureDescriptor {
	images := &UploadRule{ContentTypes: imageTypes, MaxBytes: 10 * mib}
	return map[model.FeatureKind]*FeatureDescriptor{
		model.FeatureBaby: {
			Kind: model.FeatureBaby,
			Cost: 2,
			Input: []*validation.KeyRules{
				urlKey("father_image_url", true),
				urlKey("mother_image_url", true),
				oneOfKey("gender", "boy", "girl", "random"),
			},
			ProjectedFields:       []string{"gender"},
			Upload:                images,
			RefundOnWorkerFailure: true,
			RefundOnExpiry:        true,
		},
		model.FeatureEarthZoom: {
			Kind: model.FeatureEarthZoom,
			Cost: 4,
			Input: []*validation.KeyRules{
				urlKey("image_url", true),
				promptKey(false),
				oneOfKey("zoom_level", "city", "country", "planet"),
			},
			ProjectedFields:       []string{"image_url", "zoom_level"},
			Upload:                images,
			RefundOnWorkerFailure: true,
			RefundOnExpiry:        true,
		},
		model.FeatureHailuo: {
			Kind: model.FeatureHailuo,
			Cost: 6,
			Input: []*validation.KeyRules{
				promptKey(true),
				urlKey("image_url", false),
				oneOfKey("resolution", "768p", "1080p"),
			},
			ProjectedFields:       []string{"prompt", "resolution"},
			Upload:                images,
			RefundOnWorkerFailure: true,
			RefundOnExpiry:        true,
			Usage:                 UsagePolicy{CreditsPerSecond: decimal.RequireFromString("0.5"), IncludedSeconds: decimal.NewFromInt(6)},
		},
		model.FeatureLipsync: {
			Kind: model.FeatureLipsync,
			Cost: 5,
			Input: []*validation.KeyRules{
				urlKey("media_url", true),
				urlKey("audio_url", true),
			},
			Upload:                &UploadRule{ContentTypes: mediaTypes, MaxBytes: 50 * mib},
			RefundOnWorkerFailure: true,
			RefundOnExpiry:        true,
		},
		model.FeatureSeedance: {
			Kind: model.FeatureSeedance,
			Cost: 5,
			Input: []*validation.KeyRules{
				promptKey(true),
				urlKey("image_url", false),
				oneOfKey("aspect_ratio", "16:9", "9:16", "1:1"),
				oneOfKey("resolution", "480p", "720p", "1080p"),
			},
			ProjectedFields:       []string{"prompt", "aspect_ratio", "resolution"},
			Upload:                images,
			RefundOnWorkerFailure: true,
			RefundOnExpiry:        true,
			Usage:                 UsagePolicy{CreditsPerSecond: decimal.NewFromInt(1), IncludedSeconds: decimal.NewFromInt(5)},
		},
		model.FeatureVeo3: {
			Kind: model.FeatureVeo3,
			Cost: 10,
			Input: []*validation.KeyRules{
				promptKey(true),
				urlKey("image_url", false),
				oneOfKey("aspect_ratio", "16:9", "9:16"),
			},
			ProjectedFields:         []string{"prompt", "aspect_ratio"},
			Upload:                  images,
			RefundOnDispatchFailure: true,
			RefundOnWorkerFailure:   true,
			RefundOnExpiry:          true,
		},
		model.FeatureGenericVideo: {
			Kind: model.FeatureGenericVideo,
			Cost: 3,
			Input: []*validation.KeyRules{
				promptKey(true),
				validation.Key("model", validation.Required, validation.Length(1, 100)),
				urlKey("image_url", false),
			},
			ProjectedFields:         []string{"prompt", "model"},
			Upload:                  images,
			RefundOnDispatchFailure: true,
			RefundOnWorkerFailure:   true,
			RefundOnExpiry:          true,
			Usage:                   UsagePolicy{CreditsPerSecond: decimal.RequireFromString("0.5"), IncludedSeconds: decimal.NewFromInt(5)},
		},
	}
}

// FeatureRegistry resolves feature kinds to descriptors.
type FeatureRegistry struct {
	descriptors map[model.FeatureKind]*FeatureDescriptor
}

// NewFeatureRegistry applies the configured overrides on top of the built in catalog.
func NewFeatureRegistry(cfg *config.Configuration) (*FeatureRegistry, error) {
	descriptors := builtinFeatures()
	defaultExpiry := time.Duration(cfg.Expiry.DefaultAfterSeconds) * time.Second
	if defaultExpiry <= 0 {
		defaultExpiry = config.DEFAULT_EXPIRY_AFTER_SECONDS * time.Second
	}

	for kind, d := range descriptors {
		d.WorkerPath = "/generate/" + string(kind)
		d.ExpiryAfter = defaultExpiry

		override, ok := cfg.Features[string(kind)]
		if !ok {
			continue
		}
		if err := applyOverride(d, override); err != nil {
			return nil, fmt.Errorf("feature %s: %w", kind, err)
		}
	}
	return &FeatureRegistry{descriptors: descriptors}, nil
}

func applyOverride(d *FeatureDescriptor, o config.FeatureConfig) error {
	if o.Cost != nil {
		if *o.Cost < 0 {
			return fmt.Errorf("cost must not be negative")
		}
		d.Cost = *o.Cost
	}
	if o.WorkerPath != "" {
		d.WorkerPath = "/" + strings.TrimLeft(o.WorkerPath, "/")
	}
	d.Disabled = o.Disabled
	if o.RefundOnDispatchFailure != nil {
		d.RefundOnDispatchFailure = *o.RefundOnDispatchFailure
	}
	if o.RefundOnWorkerFailure != nil {
		d.RefundOnWorkerFailure = *o.RefundOnWorkerFailure
	}
	if o.RefundOnExpiry != nil {
		d.RefundOnExpiry = *o.RefundOnExpiry
	}
	if o.ExpiryAfterSeconds > 0 {
		d.ExpiryAfter = time.Duration(o.ExpiryAfterSeconds) * time.Second
	}
	if o.UsageCreditsPerSecond != "" {
		rate, err := decimal.NewFromString(o.UsageCreditsPerSecond)
		if err != nil || rate.IsNegative() {
			return fmt.Errorf("invalid usage_credits_per_second %q", o.UsageCreditsPerSecond)
		}
		d.Usage.CreditsPerSecond = rate
	}
	if o.UsageIncludedSeconds != "" {
		included, err := decimal.NewFromString(o.UsageIncludedSeconds)
		if err != nil || included.IsNegative() {
			return fmt.Errorf("invalid usage_included_seconds %q", o.UsageIncludedSeconds)
		}
		d.Usage.IncludedSeconds = included
	}
	return nil
}

// Get returns the descriptor of kind, including disabled features.
func (r *FeatureRegistry) Get(kind model.FeatureKind) (*FeatureDescriptor, error) {
	d, ok := r.descriptors[kind]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown feature '%s'", kind), nil)
	}
	return d, nil
}

// Resolve parses a route segment and returns the descriptor of an enabled feature.
func (r *FeatureRegistry) Resolve(raw string) (*FeatureDescriptor, error) {
	kind, ok := model.ParseFeatureKind(raw)
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown feature '%s'", raw), nil)
	}
	d, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	if d.Disabled {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("feature '%s' is disabled", kind), nil)
	}
	return d, nil
}

// Enabled lists the enabled features in catalog order.
func (r *FeatureRegistry) Enabled() []*FeatureDescriptor {
	var out []*FeatureDescriptor
	for _, kind := range model.FeatureKinds {
		if d, ok := r.descriptors[kind]; ok && !d.Disabled {
			out = append(out, d)
		}
	}
	return out
}
