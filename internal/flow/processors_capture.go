package flow

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// capture runs the strict-marker protocol shared by the generic capture nodes: the first
// call shows the prompt, the next parses the answer. parse returns the value to store.
func (e *Engine) capture(c *nodeCall, opts models.CaptureOptions, parse func() (any, bool)) {
	if !c.state.PromptShown {
		c.state.PromptShown = true
		c.say(c.prompt(""))
		c.hold()
		return
	}
	path := opts.Path
	if path == "" {
		path = c.node.ID
	}
	if value, ok := parse(); ok {
		if err := c.state.Set(path, value); err != nil {
			slog.Warn("Engine capture could not store answer", "node", c.node.ID, "path", path, "error", err)
		}
		e.captured(c)
		return
	}

	c.state.Retries++
	if opts.MaxRetries > 0 && c.state.Retries >= opts.MaxRetries {
		slog.Debug("Engine capture retries exhausted", "node", c.node.ID, "retries", c.state.Retries)
		if opts.Fallback != nil {
			if err := c.state.Set(path, opts.Fallback); err != nil {
				slog.Warn("Engine capture could not store fallback", "node", c.node.ID, "path", path, "error", err)
			}
		}
		e.captured(c)
		return
	}
	msg := c.prompt("")
	if opts.InvalidMessage != "" {
		msg = Render(opts.InvalidMessage, c.state)
	}
	c.say(msg)
	c.hold()
}

// captured clears the node bookkeeping and lets the default transition advance.
func (e *Engine) captured(c *nodeCall) {
	c.state.PromptShown = false
	c.state.Retries = 0
	c.cont = len(c.node.Transitions) > 0
}

func (e *Engine) processTextCapture(c *nodeCall, cfg models.TextCaptureConfig) {
	minLen := cfg.MinLength
	if minLen <= 0 {
		minLen = 1
	}
	e.capture(c, cfg.CaptureOptions, func() (any, bool) {
		text := strings.TrimSpace(c.raw)
		return text, len([]rune(text)) >= minLen
	})
}

func (e *Engine) processNumberCapture(c *nodeCall, cfg models.NumberCaptureConfig) {
	e.capture(c, cfg.CaptureOptions, func() (any, bool) {
		v, ok := ParseNumber(c.norm, cfg.TreatAsThousands)
		if !ok {
			return nil, false
		}
		if (cfg.Min != nil && v < *cfg.Min) || (cfg.Max != nil && v > *cfg.Max) {
			return nil, false
		}
		return v, true
	})
}

func (e *Engine) processPhoneCapture(c *nodeCall, cfg models.PhoneCaptureConfig) {
	e.capture(c, cfg.CaptureOptions, func() (any, bool) {
		return ParsePhone(c.raw, c.norm, c.senderID)
	})
}
