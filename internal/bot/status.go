package bot

import (
	"context"
	"fmt"

	"github.com/loykin/reforge/internal/chat"
	"github.com/loykin/reforge/internal/countdown"
	"github.com/loykin/reforge/internal/history"
	"github.com/loykin/reforge/internal/metrics"
	"github.com/loykin/reforge/pkg/template"
)

// StatusTick keeps a single status message in the status channel and sets it
// to the online or offline text. A deleted message is recreated and its new id
// persisted. An unreachable channel skips the tick.
func (b *Bot) StatusTick(ctx context.Context) error {
	ch := b.opts.StatusChannel
	if err := b.opts.Chat.Channel(ctx, ch); err != nil {
		b.log.Warn("status channel unavailable, skipping tick", "channel", ch, "error", err)
		return nil
	}
	now := b.opts.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureReady(); err != nil {
		return err
	}

	restart := b.opts.Schedule.Current(now, b.cooldown)
	data := b.data(now, restart, b.st.Stage)

	look, err := chat.Find(ctx, b.opts.Chat, ch, b.st.StatusMsg)
	if err != nil {
		return fmt.Errorf("fetch status message: %w", err)
	}
	current := look.Message.Content
	if !look.Found {
		waiting, err := b.render(template.NameWaiting, data)
		if err != nil {
			return err
		}
		msg, err := b.opts.Chat.Send(ctx, ch, waiting)
		if err != nil {
			return fmt.Errorf("create status message: %w", err)
		}
		event := history.EventStatusCreated
		if b.st.StatusMsg != "" {
			event = history.EventStatusRecreated
			metrics.IncRecreated("status")
			b.log.Warn("status message was deleted, recreated", "old", b.st.StatusMsg, "new", msg.ID)
		} else {
			metrics.IncSent("status")
			b.log.Info("status message created", "id", msg.ID)
		}
		b.st.StatusMsg = msg.ID
		if err := b.save(ctx); err != nil {
			return err
		}
		b.record(ctx, history.Event{Type: event, ChannelID: ch, MessageID: msg.ID, Content: waiting})
		current = waiting
	} else if current == "" {
		current = b.statusContent
	}
	b.statusContent = current

	offline := b.opts.Schedule.InMaintenance(now, b.opts.MaintenanceWindow)
	metrics.SetMaintenance(offline)
	name := template.NameOnline
	if offline {
		name = template.NameOffline
	}
	content, err := b.render(name, data)
	if err != nil {
		return err
	}
	if content == current {
		return nil
	}
	if _, err := b.opts.Chat.Edit(ctx, ch, b.st.StatusMsg, content); err != nil {
		return fmt.Errorf("edit status message: %w", err)
	}
	b.statusContent = content
	metrics.IncEdited("status")
	b.log.Info("status message updated", "id", b.st.StatusMsg, "status", string(name))
	b.record(ctx, history.Event{Type: history.EventStatusEdited, ChannelID: ch, MessageID: b.st.StatusMsg, Stage: string(name), Content: content})
	return nil
}

// Offline reports whether now falls in a maintenance window.
func (b *Bot) Offline() bool {
	return b.opts.Schedule.InMaintenance(b.opts.Now(), b.opts.MaintenanceWindow)
}

// stageOrNone is the countdown stage in effect for the cycle owning now.
func (b *Bot) stageOrNone(key string) countdown.Stage {
	if b.st.Cycle != key {
		return countdown.StageNone
	}
	return b.st.Stage
}
