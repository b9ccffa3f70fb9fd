package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultFarewell is sent by end nodes without a prompt.
const DefaultFarewell = "Obrigado pelo contato! Quando quiser retomar, é só mandar uma mensagem."

func (e *Engine) processMessage(c *nodeCall) {
	msg := c.prompt("")
	c.say(msg)
	c.cont = msg == ""
}

func (e *Engine) processEnd(c *nodeCall, cfg models.EndConfig) {
	c.say(c.prompt(DefaultFarewell))
	if cfg.Clear {
		c.state.ClearAnswers()
	}
	c.state.Finished = true
	c.moveTo(models.StageStart)
}

func (e *Engine) processSetState(c *nodeCall, cfg models.SetStateConfig) {
	if err := c.state.Merge(cfg.Set); err != nil {
		slog.Warn("Engine set_state ignored invalid patch", "node", c.node.ID, "error", err)
	}
	c.cont = true
}

// processPrompt shows the prompt on arrival and evaluates transitions on the next call.
func (e *Engine) processPrompt(ctx context.Context, c *nodeCall, cfg models.PromptConfig) error {
	if !c.state.PromptShown {
		c.state.PromptShown = true
		c.say(c.prompt(""))
		c.hold()
		return nil
	}
	t := ChooseTransition(c.node.Transitions, c.raw, c.norm)
	if t == nil {
		msg := c.prompt("")
		if cfg.NoMatchMessage != "" {
			msg = Render(cfg.NoMatchMessage, c.state)
		}
		c.say(msg)
		c.hold()
		return nil
	}
	c.state.PromptShown = false
	msg, err := e.ApplyTransition(ctx, c.state, t, c.senderID)
	if err != nil {
		return err
	}
	c.moved = true
	c.say(msg)
	c.cont = msg == ""
	return nil
}

// processHandler delegates to the legacy handler of the conversation's domain. The handler
// owns stage changes; when it leaves the stage alone the default transition applies.
func (e *Engine) processHandler(ctx context.Context, c *nodeCall) error {
	if !models.IsKnownHandler(c.node.Handler) {
		c.unhandled = true
		return nil
	}
	before := c.state.Stage
	reply, err := callHandler(ctx, e.handlerFor(c.domain), models.HandlerName(c.node.Handler), c.raw, c.senderID, c.state)
	if err != nil {
		return fmt.Errorf("handler %s: %w", c.node.Handler, err)
	}
	c.say(reply.Message)
	c.cont = reply.Continue
	if c.state.Stage != before {
		c.moved = true
	}
	return nil
}
