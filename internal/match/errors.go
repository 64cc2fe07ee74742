package match

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimeout         = errors.New("match timeout")
	ErrUnexpectedMatch = errors.New("unexpected match")
)

// TimeoutError is returned when a required pattern was not seen in time.
type TimeoutError struct {
	Result *Result
}

func (e *TimeoutError) Error() string {
	r := e.Result
	var b strings.Builder
	fmt.Fprintf(&b, "timeout: pattern %q not seen within %s (elapsed %s)",
		r.Pattern.String(), r.Timeout, r.Elapsed.Round(time.Millisecond))
	if r.Policy.Partial {
		b.WriteString(", partial line included")
	}
	writeSearched(&b, r)
	return b.String()
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// UnexpectedMatchError is returned when a forbidden pattern was seen. The
// buffer cursor is left on the offending line.
type UnexpectedMatchError struct {
	Result *Result
}

func (e *UnexpectedMatchError) Error() string {
	r := e.Result
	where := fmt.Sprintf("line %d", r.EndIdx)
	if r.MatchedPartial {
		where = "partial line"
	}
	return fmt.Sprintf("unexpected match: pattern %q matched %s after %s (limit %s): %q",
		r.Pattern.String(), where, r.Elapsed.Round(time.Millisecond), r.Timeout, r.Matched)
}

func (e *UnexpectedMatchError) Is(target error) bool {
	return target == ErrUnexpectedMatch
}

func writeSearched(b *strings.Builder, r *Result) {
	if len(r.Searched) == 0 {
		b.WriteString("; no new lines")
	} else {
		fmt.Fprintf(b, "; searched lines %d-%d:", r.StartIdx+1, r.EndIdx)
		for _, line := range r.Searched {
			fmt.Fprintf(b, "\n\t%q", line)
		}
	}
	if r.Policy.Partial && r.Peeked != "" {
		fmt.Fprintf(b, "\n\tpartial: %q", r.Peeked)
	}
}
