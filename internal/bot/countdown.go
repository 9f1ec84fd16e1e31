package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/reforge/internal/chat"
	"github.com/loykin/reforge/internal/countdown"
	"github.com/loykin/reforge/internal/history"
	"github.com/loykin/reforge/internal/metrics"
	"github.com/loykin/reforge/pkg/template"
)

// CountdownTick advances the countdown of the cycle owning now. Each stage is
// announced at most once per cycle; when stages were missed only the latest
// one due is sent.
func (b *Bot) CountdownTick(ctx context.Context) error {
	ch := b.opts.CountdownChannel
	if err := b.opts.Chat.Channel(ctx, ch); err != nil {
		b.log.Warn("countdown channel unavailable, skipping tick", "channel", ch, "error", err)
		return nil
	}
	now := b.opts.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureReady(); err != nil {
		return err
	}
	if err := b.finishOverdue(ctx, now); err != nil {
		return err
	}

	sch := b.opts.Schedule
	restart := sch.Current(now, b.cooldown)
	key := sch.Key(restart)
	metrics.SetNextRestart(restart.Unix())

	dirty := false
	if b.st.Cycle != key {
		b.log.Debug("countdown cycle opened", "cycle", key, "previous", b.st.Cycle)
		b.st.Cycle = key
		b.st.Stage = countdown.StageNone
		b.st.RestartingMsg = ""
		metrics.SetStage(int(countdown.StageNone))
		dirty = true
	}

	if b.st.LastRestart == key {
		return b.settle(ctx, now, restart, dirty)
	}

	target := countdown.StageFor(restart.Sub(now))
	if !target.After(b.st.Stage) {
		if b.st.Stage == countdown.StageNone {
			return b.settle(ctx, now, restart, dirty)
		}
		if dirty {
			return b.save(ctx)
		}
		return nil
	}

	if b.st.Stage == countdown.StageNone && b.st.PlaceholderMsg != "" {
		b.removePlaceholder(ctx)
		dirty = true
	}
	if err := b.announce(ctx, now, restart, target); err != nil {
		if dirty {
			if serr := b.save(ctx); serr != nil {
				b.log.Warn("state save failed", "error", serr)
			}
		}
		return err
	}
	if err := b.save(ctx); err != nil {
		return err
	}
	if target == countdown.StageRestarting {
		if err := b.queueReborn(key); err != nil {
			return err
		}
	}
	return nil
}

// settle keeps the placeholder standing and persists pending changes.
func (b *Bot) settle(ctx context.Context, now, restart time.Time, dirty bool) error {
	posted, err := b.ensurePlaceholder(ctx, now, restart)
	if err != nil {
		return err
	}
	if dirty || posted {
		return b.save(ctx)
	}
	return nil
}

func (b *Bot) announce(ctx context.Context, now, restart time.Time, stage countdown.Stage) error {
	name, ok := template.ForStage(stage)
	if !ok {
		return fmt.Errorf("no announcement for stage %s", stage)
	}
	content, err := b.render(name, b.data(now, restart, stage))
	if err != nil {
		return err
	}
	ch := b.opts.CountdownChannel
	msg, err := b.opts.Chat.Send(ctx, ch, content)
	if err != nil {
		return fmt.Errorf("send %s announcement: %w", stage, err)
	}
	b.st.Stage = stage
	if stage == countdown.StageRestarting {
		b.st.RestartingMsg = msg.ID
	}
	metrics.IncSent("countdown")
	metrics.SetStage(int(stage))
	b.log.Info("countdown announced", "cycle", b.st.Cycle, "stage", stage.String(), "id", msg.ID)
	b.record(ctx, history.Event{
		Type:      history.EventCountdownSent,
		ChannelID: ch,
		MessageID: msg.ID,
		Cycle:     b.st.Cycle,
		Stage:     stage.String(),
		Content:   content,
	})
	return nil
}

// rebornPending reports whether the restarting message went out but the
// follow-up has not completed.
func (b *Bot) rebornPending() bool {
	return b.st.Stage == countdown.StageRestarting && b.st.Cycle != "" && b.st.LastRestart != b.st.Cycle
}

// queueReborn hands the follow-up of cycle key to the deferrer, once.
func (b *Bot) queueReborn(key string) error {
	if b.opts.Deferrer == nil || b.rebornQueued == key {
		return nil
	}
	restart, err := b.opts.Schedule.ParseKey(key)
	if err != nil {
		return fmt.Errorf("parse cycle key %q: %w", key, err)
	}
	due := restart.Add(b.opts.RebornOffset)
	b.rebornQueued = key
	b.opts.Deferrer.After(due, JobReborn, func(ctx context.Context) error {
		return b.Reborn(ctx, key)
	})
	b.log.Debug("reborn follow-up queued", "cycle", key, "at", due)
	return nil
}

// finishOverdue performs a follow-up whose due time has passed, typically
// because the process was down when it should have run.
func (b *Bot) finishOverdue(ctx context.Context, now time.Time) error {
	if !b.rebornPending() {
		return nil
	}
	restart, err := b.opts.Schedule.ParseKey(b.st.Cycle)
	if err != nil {
		return fmt.Errorf("parse cycle key %q: %w", b.st.Cycle, err)
	}
	if now.Before(restart.Add(b.opts.RebornOffset)) {
		return nil
	}
	return b.rebornLocked(ctx, b.st.Cycle)
}

// Reborn edits the restarting message of cycle key to the reborn text and
// closes the cycle. Running it again for a closed cycle does nothing.
func (b *Bot) Reborn(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureReady(); err != nil {
		return err
	}
	return b.rebornLocked(ctx, key)
}

func (b *Bot) rebornLocked(ctx context.Context, key string) error {
	if b.st.LastRestart == key {
		return nil
	}
	if b.st.Cycle != key {
		b.log.Warn("reborn for a cycle that is no longer tracked", "cycle", key, "current", b.st.Cycle)
		return nil
	}
	restart, err := b.opts.Schedule.ParseKey(key)
	if err != nil {
		return fmt.Errorf("parse cycle key %q: %w", key, err)
	}
	now := b.opts.Now()
	content, err := b.render(template.NameReborn, b.data(now, restart, countdown.StageRestarting))
	if err != nil {
		return err
	}

	ch := b.opts.CountdownChannel
	id := b.st.RestartingMsg
	edited := false
	if id != "" {
		_, err := b.opts.Chat.Edit(ctx, ch, id, content)
		switch {
		case err == nil:
			edited = true
		case errors.Is(err, chat.ErrMessageNotFound):
			b.log.Warn("restarting message is gone, posting reborn anew", "id", id)
		default:
			return fmt.Errorf("edit restarting message: %w", err)
		}
	}
	if edited {
		metrics.IncEdited("countdown")
	} else {
		msg, err := b.opts.Chat.Send(ctx, ch, content)
		if err != nil {
			return fmt.Errorf("send reborn message: %w", err)
		}
		id = msg.ID
		metrics.IncSent("countdown")
	}
	b.log.Info("world reborn", "cycle", key, "id", id, "edited", edited)
	b.record(ctx, history.Event{
		Type:      history.EventReborn,
		ChannelID: ch,
		MessageID: id,
		Cycle:     key,
		Stage:     countdown.StageRestarting.String(),
		Content:   content,
	})

	b.st.LastRestart = key
	b.st.RestartingMsg = ""
	if b.rebornQueued == key {
		b.rebornQueued = ""
	}
	if err := b.save(ctx); err != nil {
		return err
	}
	posted, err := b.ensurePlaceholder(ctx, now, b.opts.Schedule.Next(now))
	if err != nil {
		return err
	}
	if posted {
		return b.save(ctx)
	}
	return nil
}

// ensurePlaceholder posts the standing placeholder when it is missing and
// reports whether it did.
func (b *Bot) ensurePlaceholder(ctx context.Context, now, restart time.Time) (bool, error) {
	ch := b.opts.CountdownChannel
	look, err := chat.Find(ctx, b.opts.Chat, ch, b.st.PlaceholderMsg)
	if err != nil {
		return false, fmt.Errorf("fetch placeholder: %w", err)
	}
	if look.Found {
		return false, nil
	}
	content, err := b.render(template.NamePlaceholder, b.data(now, restart, b.st.Stage))
	if err != nil {
		return false, err
	}
	msg, err := b.opts.Chat.Send(ctx, ch, content)
	if err != nil {
		return false, fmt.Errorf("post placeholder: %w", err)
	}
	if b.st.PlaceholderMsg != "" {
		metrics.IncRecreated("placeholder")
	} else {
		metrics.IncSent("placeholder")
	}
	b.log.Info("placeholder posted", "id", msg.ID, "previous", b.st.PlaceholderMsg)
	b.st.PlaceholderMsg = msg.ID
	b.record(ctx, history.Event{
		Type:      history.EventPlaceholderPosted,
		ChannelID: ch,
		MessageID: msg.ID,
		Cycle:     b.st.Cycle,
		Content:   content,
	})
	return true, nil
}

// removePlaceholder deletes the placeholder. Delete failures are logged only.
func (b *Bot) removePlaceholder(ctx context.Context) {
	id := b.st.PlaceholderMsg
	if id == "" {
		return
	}
	ch := b.opts.CountdownChannel
	if err := b.opts.Chat.Delete(ctx, ch, id); err != nil && !errors.Is(err, chat.ErrMessageNotFound) {
		b.log.Warn("placeholder delete failed", "id", id, "error", err)
	}
	b.st.PlaceholderMsg = ""
	b.record(ctx, history.Event{
		Type:      history.EventPlaceholderRemoved,
		ChannelID: ch,
		MessageID: id,
		Cycle:     b.st.Cycle,
	})
}
