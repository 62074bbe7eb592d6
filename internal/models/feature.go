package models

// Feature identifies one metered AI capability.
type Feature string

const (
	FeatureJobMatch              Feature = "job_match"
	FeatureResumeEnhance         Feature = "resume_enhance"
	FeatureJobDescriptionEnhance Feature = "job_description_enhance"
	FeatureFileParse             Feature = "file_parse"
)

// KnownFeatures lists the features served by the HTTP surface.
var KnownFeatures = []Feature{
	FeatureJobMatch,
	FeatureResumeEnhance,
	FeatureJobDescriptionEnhance,
	FeatureFileParse,
}

// IsKnown reports whether f is one of KnownFeatures.
func (f Feature) IsKnown() bool {
	for _, k := range KnownFeatures {
		if k == f {
			return true
		}
	}
	return false
}
