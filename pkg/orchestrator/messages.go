package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/retry"
)

const quotaRemediation = `To resolve this:
  1. Wait for the per-minute quota to reset before trying again.
  2. Check your usage and limits in Google AI Studio.
  3. Enable billing or request a higher quota for the project.`

// UserMessage maps err to a plain-language message for the user.
func (o *Orchestrator) UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var exhausted *retry.ExhaustedError
	isExhausted := errors.As(err, &exhausted)

	switch apierr.KindOf(err) {
	case apierr.KindRateLimit, apierr.KindQuotaExceeded:
		var b strings.Builder
		if apierr.KindOf(err) == apierr.KindQuotaExceeded {
			b.WriteString("The AI service quota has been exceeded.")
		} else {
			b.WriteString("The AI service rate limit has been reached.")
		}
		if isExhausted {
			fmt.Fprintf(&b, " Gave up after %d attempts: maximum retry attempts reached.", exhausted.Attempts)
		}
		fmt.Fprintf(&b, " %s\n%s", o.waitHint(err), quotaRemediation)
		return b.String()
	case apierr.KindConfiguration:
		return MissingKeyWarning
	case apierr.KindValidation:
		return "Invalid request: " + messageOf(err)
	case apierr.KindConversion:
		return "The image could not be read. Upload a PNG, JPEG, GIF or WebP photo. (" + messageOf(err) + ")"
	case apierr.KindAccessDenied:
		return "The AI service denied access. Check that the API key is valid and that the Generative Language API is enabled for its project."
	case apierr.KindUpstreamFormat:
		return "The AI service returned an empty or unusable response. Try again with a clearer photo or description."
	case apierr.KindNetwork:
		return "Could not reach the AI service. Check the network connection and try again."
	case apierr.KindBusy:
		return "Another report is already being generated. Wait for it to finish."
	}
	if isExhausted {
		return fmt.Sprintf("Report generation failed: maximum retry attempts reached (%d).", exhausted.Attempts)
	}
	return "Report generation failed: " + err.Error()
}

// waitHint states how long to wait before the next attempt can be admitted.
func (o *Orchestrator) waitHint(err error) string {
	wait := apierr.RetryAfter(err)
	if o.d.Limiter != nil {
		if w := o.d.Limiter.TimeUntilNextSlot(); w > wait {
			wait = w
		}
	}
	if wait <= 0 {
		window := time.Minute
		if o.d.Limiter != nil {
			window = o.d.Limiter.Config().Window
		}
		return fmt.Sprintf("Wait about %s before trying again.", window.Round(time.Second))
	}
	return fmt.Sprintf("Wait %s before trying again.", wait.Round(time.Second))
}

func messageOf(err error) string {
	var ae *apierr.Error
	if errors.As(err, &ae) && ae.Msg != "" {
		return ae.Msg
	}
	return err.Error()
}
