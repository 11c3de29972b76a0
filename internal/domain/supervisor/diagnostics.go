package supervisor

// diagnostics is the failure log fed to the generator's learning context.
// Callers hold the supervisor lock.
type diagnostics struct {
	failures []Failure
}

func (d *diagnostics) record(reason string, ts int64) {
	d.failures = append(d.failures, Failure{Error: reason, Timestamp: ts})
	if n := len(d.failures); n > MaxFailures {
		d.failures = append([]Failure(nil), d.failures[n-MaxFailures:]...)
	}
}

func (d *diagnostics) list() []Failure {
	return append([]Failure{}, d.failures...)
}

func (d *diagnostics) messages() []string {
	out := make([]string, len(d.failures))
	for i, f := range d.failures {
		out[i] = f.Error
	}
	return out
}

func (d *diagnostics) reset() {
	d.failures = nil
}
