package dolt

import (
	"context"
	"strings"
)

// fakeRunner matches invocations against substring rules, in order. The
// default response is a clean empty success, which parseRows treats as zero
// rows.
type fakeRunner struct {
	rules []fakeRule
	calls []string
}

type fakeRule struct {
	substr string
	result Result
	err    error
}

func (f *fakeRunner) on(substr string, result Result) *fakeRunner {
	f.rules = append(f.rules, fakeRule{substr: substr, result: result})
	return f
}

func (f *fakeRunner) onErr(substr string, err error) *fakeRunner {
	f.rules = append(f.rules, fakeRule{substr: substr, err: err})
	return f
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (Result, error) {
	call := strings.Join(args, " ")
	f.calls = append(f.calls, call)

	for _, rule := range f.rules {
		if strings.Contains(call, rule.substr) {
			return rule.result, rule.err
		}
	}
	return Result{}, nil
}

func (f *fakeRunner) lastCall() string {
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func jsonRows(rows string) Result {
	return Result{Stdout: `{"rows":[` + rows + `]}`}
}
