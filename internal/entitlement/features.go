package entitlement

import (
	"sort"
	"time"
)

type Feature string

const (
	FeatureDocumentsRead   Feature = "documents.read"
	FeatureDocumentsDelete Feature = "documents.delete"
	FeatureDocumentsWrite  Feature = "documents.write"
	FeatureAutosave        Feature = "editor.autosave"
	FeatureAssist          Feature = "ai.assist"
	FeatureChat            Feature = "ai.chat"
	FeatureCitation        Feature = "ai.citation"
	FeatureExport          Feature = "documents.export"
	FeatureHistory         Feature = "documents.history"
)

var premiumFeatures = map[Feature]bool{
	FeatureDocumentsWrite: true,
	FeatureAutosave:       true,
	FeatureAssist:         true,
	FeatureChat:           true,
	FeatureCitation:       true,
	FeatureExport:         true,
	FeatureHistory:        true,
}

var freeFeatures = map[Feature]bool{
	FeatureDocumentsRead:   true,
	FeatureDocumentsDelete: true,
}

// Premium reports whether a feature sits behind the paywall.
func Premium(feature Feature) bool {
	return premiumFeatures[feature]
}

// Allows applies the gate to a single feature. Unknown features are denied.
func Allows(s *Snapshot, feature Feature, now time.Time) bool {
	if freeFeatures[feature] {
		return true
	}
	if !premiumFeatures[feature] {
		return false
	}
	return Evaluate(s, now)
}

// Enabled lists every feature the snapshot unlocks, sorted.
func Enabled(s *Snapshot, now time.Time) []Feature {
	premium := Evaluate(s, now)
	out := make([]Feature, 0, len(freeFeatures)+len(premiumFeatures))
	for f := range freeFeatures {
		out = append(out, f)
	}
	if premium {
		for f := range premiumFeatures {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
