// Package killaction drives the broker's web surface to flip the
// account-level kill switch. The flow is a recorded step list from the
// account store; steps type credentials, wait for an emailed OTP and
// click through the confirmation dialogs by coordinate.
//
// This is the one irreversible action in the system. Errors here are
// fatal to the kill attempt and are never retried automatically.
package killaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"killswitch/internal/account"
	"killswitch/internal/logger"
)

// OTPProvider hands out the one-time password the broker mails during
// the kill confirmation flow.
type OTPProvider interface {
	// WaitForOTP blocks until an OTP newer than since arrives or ctx ends.
	WaitForOTP(ctx context.Context, since time.Time) (string, error)
}

// Killer executes the external kill action for one account.
type Killer interface {
	Execute(ctx context.Context) error
}

const (
	navigateTimeout = 60 * time.Second
	otpWaitTimeout  = 130 * time.Second
	typeDelay       = 100 * time.Millisecond
)

// Browser is the chromedp-backed Killer.
type Browser struct {
	accountID string
	cfg       account.AutomationConfig
	creds     map[string]string
	otp       OTPProvider
	crashDir  string
}

func NewBrowser(accountID string, cfg account.AutomationConfig, creds map[string]string, otp OTPProvider, crashDir string) *Browser {
	if crashDir == "" {
		crashDir = "logs"
	}
	return &Browser{accountID: accountID, cfg: cfg, creds: creds, otp: otp, crashDir: crashDir}
}

// Execute runs the full recorded flow. On any step failure that is not
// marked optional it captures a crash screenshot and returns the error.
func (b *Browser) Execute(ctx context.Context) error {
	if b.cfg.LoginURL == "" {
		return fmt.Errorf("kill action: login_url not configured")
	}
	logger.Warnf("[auto] %s: starting browser kill sequence", b.accountID)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.WindowSize(1366, 768),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	navCtx, cancelNav := context.WithTimeout(browserCtx, navigateTimeout)
	defer cancelNav()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(b.cfg.LoginURL),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return fmt.Errorf("kill action: navigate: %w", err)
	}

	// otpSince is armed when the password step types; OTPs mailed before
	// that moment belong to an earlier attempt.
	var otpSince time.Time

	for _, step := range b.cfg.Steps {
		if !step.IsEnabled() {
			logger.Infof("[auto] %s: step %d %q skipped by config", b.accountID, step.ID, step.Description)
			continue
		}
		logger.Infof("[auto] %s: step %d %q (%s)", b.accountID, step.ID, step.Description, step.Action)

		err := b.runStep(browserCtx, step, &otpSince)
		if err != nil {
			if step.Optional {
				logger.Warnf("[auto] %s: optional step %d failed, continuing: %v", b.accountID, step.ID, err)
				continue
			}
			b.captureCrash(browserCtx)
			return fmt.Errorf("kill action: step %d %q: %w", step.ID, step.Description, err)
		}
		if step.WaitSeconds > 0 {
			select {
			case <-time.After(time.Duration(step.WaitSeconds * float64(time.Second))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	logger.Warnf("[auto] %s: browser kill sequence completed", b.accountID)
	return nil
}

func (b *Browser) runStep(ctx context.Context, step account.AutomationStep, otpSince *time.Time) error {
	switch step.Action {
	case "input":
		return b.typeCredential(ctx, step, otpSince)
	case "otp":
		return b.typeOTP(ctx, *otpSince)
	case "click":
		if step.Coords == nil {
			return fmt.Errorf("click step without coordinates")
		}
		return chromedp.Run(ctx, chromedp.MouseClickXY(step.Coords.X, step.Coords.Y))
	case "scroll":
		repeats := step.Repeats
		if repeats <= 0 {
			repeats = 1
		}
		for i := 0; i < repeats; i++ {
			if err := chromedp.Run(ctx,
				chromedp.Evaluate(`window.scrollBy(0, 200)`, nil),
				chromedp.Sleep(150*time.Millisecond),
			); err != nil {
				return err
			}
		}
		return nil
	case "keys":
		for _, key := range step.Keys {
			if err := chromedp.Run(ctx,
				chromedp.KeyEvent(mapKey(key)),
				chromedp.Sleep(300*time.Millisecond),
			); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func (b *Browser) typeCredential(ctx context.Context, step account.AutomationStep, otpSince *time.Time) error {
	val, ok := b.creds[step.CredKey]
	if !ok || val == "" {
		return fmt.Errorf("credential %q not available", step.CredKey)
	}
	lowerKey := strings.ToLower(step.CredKey)
	if strings.Contains(lowerKey, "mobile") {
		val = strings.TrimPrefix(val, "+91")
	}
	if strings.Contains(lowerKey, "password") {
		// The broker mails the OTP right after the password submit; only
		// messages from this point on count.
		*otpSince = time.Now()
	}

	if err := typeText(ctx, val); err != nil {
		return err
	}
	for _, key := range step.Keys {
		if err := chromedp.Run(ctx,
			chromedp.KeyEvent(mapKey(key)),
			chromedp.Sleep(500*time.Millisecond),
		); err != nil {
			return err
		}
	}
	return nil
}

func (b *Browser) typeOTP(ctx context.Context, since time.Time) error {
	if b.otp == nil {
		return fmt.Errorf("otp step configured but no OTP provider")
	}
	if since.IsZero() {
		return fmt.Errorf("otp step reached before password step armed the listener")
	}
	logger.Infof("[auto] %s: waiting for OTP", b.accountID)

	waitCtx, cancel := context.WithTimeout(ctx, otpWaitTimeout)
	defer cancel()
	code, err := b.otp.WaitForOTP(waitCtx, since)
	if err != nil {
		return fmt.Errorf("otp wait: %w", err)
	}
	logger.Infof("[auto] %s: OTP received", b.accountID)
	return typeText(ctx, code)
}

// typeText sends characters through the keyboard with a human-ish delay,
// targeting whatever element currently holds focus.
func typeText(ctx context.Context, text string) error {
	for _, r := range text {
		if err := chromedp.Run(ctx,
			chromedp.KeyEvent(string(r)),
			chromedp.Sleep(typeDelay),
		); err != nil {
			return err
		}
	}
	return nil
}

func (b *Browser) captureCrash(ctx context.Context) {
	var buf []byte
	shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		logger.Warnf("[auto] %s: crash screenshot failed: %v", b.accountID, err)
		return
	}
	if err := os.MkdirAll(b.crashDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(b.crashDir, fmt.Sprintf("crash_%s.png", b.accountID))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		logger.Warnf("[auto] %s: crash screenshot write failed: %v", b.accountID, err)
		return
	}
	logger.Warnf("[auto] %s: crash screenshot saved to %s", b.accountID, path)
}

func mapKey(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowup", "up":
		return kb.ArrowUp
	default:
		return name
	}
}
