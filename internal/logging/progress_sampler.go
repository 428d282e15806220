package logging

// ProgressSampler throttles progress logs for long runs: a line is emitted
// when the percentage enters a new bucket or the status label changes.
// It is not safe for concurrent use.
type ProgressSampler struct {
	step   float64
	label  string
	bucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent. Non-positive widths fall back to 10%.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step, bucket: -1}
}

// ShouldLog reports whether a progress update should be logged.
// A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, label string) bool {
	if s == nil {
		return true
	}
	emit := false
	if label != s.label {
		s.label = label
		s.bucket = -1
		emit = true
	}
	if percent > 100 {
		percent = 100
	}
	if percent >= 0 {
		if b := int(percent / s.step); b > s.bucket {
			s.bucket = b
			emit = true
		}
	}
	return emit
}

// Reset forgets the last label and bucket, e.g. when a new run starts.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.label = ""
	s.bucket = -1
}
