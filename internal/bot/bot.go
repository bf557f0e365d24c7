// Package bot implements the Telegram command surface: follow/unfollow/
// list/clear plus the interactive size selection at follow time. It shares
// the Store, price source and variant resolver with the reconciliation
// engine and performs the follow-time price lookup synchronously.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"wb-price-watcher/internal/source"
	"wb-price-watcher/internal/store"
	"wb-price-watcher/internal/variant"
	domain "wb-price-watcher/pkg/types"
)

// API is the slice of the Telegram bot API the command surface needs.
// *tgbotapi.BotAPI satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) (tgbotapi.UpdatesChannel, error)
}

// pendingFollow holds the state of a follow command waiting for the user
// to pick a size from the reply keyboard.
type pendingFollow struct {
	ProductID int64
	Name      string
	Variants  []domain.Variant
	AskedAt   time.Time
}

// Bot handles incoming Telegram commands.
type Bot struct {
	api             API
	store           store.Store
	source          source.Client
	log             *slog.Logger
	variantTracking bool
	lookupTimeout   time.Duration
	pendingTTL      time.Duration

	mu      sync.Mutex
	pending map[int64]*pendingFollow // chat id -> awaiting size selection
}

// BotOption configures the Bot.
type BotOption func(*Bot)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) BotOption {
	return func(b *Bot) {
		b.log = l
	}
}

// WithVariantTracking toggles the follow-time size prompt. When disabled
// a follow always tracks the first available variant.
func WithVariantTracking(enabled bool) BotOption {
	return func(b *Bot) {
		b.variantTracking = enabled
	}
}

// WithLookupTimeout bounds the synchronous follow-time source fetch.
func WithLookupTimeout(d time.Duration) BotOption {
	return func(b *Bot) {
		if d > 0 {
			b.lookupTimeout = d
		}
	}
}

// WithPendingTTL sets how long a size prompt stays answerable. A reply
// after the deadline restarts the follow instead of storing a price that
// may no longer be current.
func WithPendingTTL(d time.Duration) BotOption {
	return func(b *Bot) {
		if d > 0 {
			b.pendingTTL = d
		}
	}
}

// New creates a Bot with injected dependencies.
func New(api API, s store.Store, src source.Client, opts ...BotOption) *Bot {
	b := &Bot{
		api:             api,
		store:           s,
		source:          src,
		log:             slog.Default(),
		variantTracking: true,
		lookupTimeout:   15 * time.Second,
		pendingTTL:      10 * time.Minute,
		pending:         make(map[int64]*pendingFollow),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run consumes Telegram updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := b.api.GetUpdatesChan(u)
	if err != nil {
		return fmt.Errorf("opening updates channel: %w", err)
	}

	b.log.Info("bot update loop started")

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bot update loop stopping")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}

	m := upd.Message
	chatID := m.Chat.ID

	if !m.IsCommand() {
		b.handleReply(ctx, chatID, m.Text)
		return
	}

	switch m.Command() {
	case "start":
		b.reply(chatID, "Welcome! This bot tracks Wildberries product prices and "+
			"notifies you when a price you follow goes up or down.\n"+
			"/help - list of commands")
	case "how":
		b.reply(chatID, "How it works:\n\n"+
			"On every scheduled check the bot refreshes the prices of the products "+
			"you follow. When a price changed you get one message with the new "+
			"price, the difference in rubles and in percent.")
	case "help":
		b.reply(chatID, helpText)
	case "follow":
		b.handleFollow(ctx, chatID, m.CommandArguments())
	case "unfollow":
		b.handleUnfollow(ctx, chatID, m.CommandArguments())
	case "check":
		b.handleCheck(ctx, chatID)
	case "clear":
		b.handleClear(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. /help lists what I understand.")
	}
}

const helpText = "Commands:\n\n" +
	"/follow <article> - start tracking a product by its article number\n" +
	"/unfollow <article> - stop tracking a product\n" +
	"/check - show your tracked products with current prices\n" +
	"/clear - remove all tracked products\n" +
	"/how - short description of how the bot works"

func (b *Bot) handleFollow(ctx context.Context, chatID int64, args string) {
	productID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || productID <= 0 {
		b.reply(chatID, "Please give a valid article number, e.g. /follow 12345678")
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, b.lookupTimeout)
	defer cancel()

	products, err := b.source.FetchBatch(lookupCtx, []int64{productID})
	if err != nil {
		b.log.Error("follow-time lookup failed", "chat_id", chatID, "product_id", productID, "error", err)
		b.reply(chatID, "Could not fetch product data right now, please try again later.")
		return
	}

	p, ok := products[productID]
	if !ok {
		b.reply(chatID, fmt.Sprintf("Article %d was not found in the catalog.", productID))
		return
	}

	if b.variantTracking && len(p.Variants) > 1 {
		b.askForSize(chatID, p)
		return
	}

	price, err := variant.Resolve("", p.Variants)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%s has no purchasable variants right now.", p.Name))
		return
	}

	if err := b.followItem(ctx, chatID, p, "", price); err != nil {
		b.log.Error("follow failed", "chat_id", chatID, "product_id", productID, "error", err)
		b.reply(chatID, "Saving the product failed, please try again.")
		return
	}

	b.reply(chatID, fmt.Sprintf("Article %d added to your list.", productID))
}

// askForSize stores the pending follow and prompts with a one-time reply
// keyboard, one size per row. The explicit pending table is the bot's only
// conversational state.
func (b *Bot) askForSize(chatID int64, p domain.Product) {
	b.mu.Lock()
	b.pending[chatID] = &pendingFollow{
		ProductID: p.ID,
		Name:      p.Name,
		Variants:  p.Variants,
		AskedAt:   time.Now(),
	}
	b.mu.Unlock()

	rows := make([][]tgbotapi.KeyboardButton, 0, len(p.Variants))
	for _, v := range p.Variants {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(v.Label)))
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.OneTimeKeyboard = true

	msg := tgbotapi.NewMessage(chatID,
		"This product is available in several sizes. Please pick the size to track:")
	msg.ReplyMarkup = markup

	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("sending size prompt failed", "chat_id", chatID, "error", err)
	}
}

// handleReply resolves a free-text message as a size selection when one is
// pending for the chat; otherwise the text is ignored.
func (b *Bot) handleReply(ctx context.Context, chatID int64, text string) {
	b.mu.Lock()
	pf, ok := b.pending[chatID]
	if ok {
		delete(b.pending, chatID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	if time.Since(pf.AskedAt) > b.pendingTTL {
		b.reply(chatID, "That size selection has expired. Start over with /follow if you still want the product.")
		return
	}

	v, err := variant.ResolveByReply(text, pf.Variants)
	if err != nil {
		b.reply(chatID, "That size was not found. Start over with /follow if you still want the product.")
		return
	}

	p := domain.Product{ID: pf.ProductID, Name: pf.Name, Variants: pf.Variants}
	if err := b.followItem(ctx, chatID, p, v.Label, v.Price); err != nil {
		b.log.Error("follow failed", "chat_id", chatID, "product_id", pf.ProductID, "error", err)
		b.reply(chatID, "Saving the product failed, please try again.")
		return
	}

	b.reply(chatID, fmt.Sprintf("%s, size %s, added to your list.", pf.Name, v.Label))
}

// followItem creates the tracked item with both prices at the freshly
// resolved value, so the first notification reports a delta against the
// follow-time price.
func (b *Bot) followItem(
	ctx context.Context,
	chatID int64,
	p domain.Product,
	selector string,
	price int64,
) error {
	if err := b.store.EnsureSubscriber(ctx, chatID); err != nil {
		return err
	}
	return b.store.UpsertItem(ctx, &domain.TrackedItem{
		ChatID:                chatID,
		ProductID:             p.ID,
		VariantSelector:       selector,
		Name:                  p.Name,
		CurrentPrice:          price,
		PreviousNotifiedPrice: price,
		PendingChange:         false,
	})
}

func (b *Bot) handleUnfollow(ctx context.Context, chatID int64, args string) {
	productID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || productID <= 0 {
		b.reply(chatID, "Please give a valid article number, e.g. /unfollow 12345678")
		return
	}

	// Removes every tracked variant of the product.
	if err := b.store.RemoveProduct(ctx, chatID, productID); err != nil {
		b.log.Error("unfollow failed", "chat_id", chatID, "product_id", productID, "error", err)
		b.reply(chatID, "Removing the product failed, please try again.")
		return
	}

	b.reply(chatID, fmt.Sprintf("Article %d removed from your list.", productID))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	items, err := b.store.ListItems(ctx, chatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		b.log.Error("listing items failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "Could not read your list, please try again.")
		return
	}

	if len(items) == 0 {
		b.reply(chatID, "You are not tracking any products.")
		return
	}

	blocks := make([]string, 0, len(items))
	for _, it := range items {
		block := fmt.Sprintf("Article: %d\nItem: %s", it.ProductID, it.Name)
		if it.VariantSelector != "" {
			block += fmt.Sprintf("\nSize: %s", it.VariantSelector)
		}
		block += fmt.Sprintf("\nPrice: %s rub.\nLink: %s",
			domain.FormatPrice(it.CurrentPrice),
			domain.ProductURL(it.ProductID),
		)
		blocks = append(blocks, block)
	}

	b.reply(chatID, strings.Join(blocks, "\n\n"))
}

func (b *Bot) handleClear(ctx context.Context, chatID int64) {
	if err := b.store.ClearItems(ctx, chatID); err != nil {
		b.log.Error("clear failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "Clearing your list failed, please try again.")
		return
	}
	b.reply(chatID, "Your list has been cleared.")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("sending reply failed", "chat_id", chatID, "error", err)
	}
}
