package capture

import (
	"errors"
	"fmt"
)

// Step identifies one stage of a capture.
type Step string

const (
	StepLaunch     Step = "launch"
	StepOpenPage   Step = "open page"
	StepViewport   Step = "set viewport"
	StepNavigate   Step = "navigate"
	StepScreenshot Step = "screenshot"
	StepClose      Step = "close"
)

var (
	ErrLaunch         = errors.New("browser launch failed")
	ErrPageCreation   = errors.New("page creation failed")
	ErrViewportConfig = errors.New("viewport configuration failed")
	ErrNavigation     = errors.New("navigation failed")
	ErrScreenshot     = errors.New("screenshot failed")
	ErrClose          = errors.New("browser close failed")
)

var stepSentinels = map[Step]error{
	StepLaunch:     ErrLaunch,
	StepOpenPage:   ErrPageCreation,
	StepViewport:   ErrViewportConfig,
	StepNavigate:   ErrNavigation,
	StepScreenshot: ErrScreenshot,
	StepClose:      ErrClose,
}

// StepError is returned by Capture when a step fails. It matches the
// sentinel of its step with errors.Is and unwraps to the engine error.
type StepError struct {
	Step Step
	URL  string
	Err  error
}

func (e *StepError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s %s: %v", e.Step, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	sentinel, ok := stepSentinels[e.Step]
	return ok && target == sentinel
}

func newStepError(step Step, url string, err error) *StepError {
	return &StepError{Step: step, URL: url, Err: err}
}

// FailedStep returns the step that produced err, if err came from a capture.
func FailedStep(err error) (Step, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
