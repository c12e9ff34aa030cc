// Package local serves the bot on the terminal: every input line is a
// message in a single one-to-one chat, PDFs are saved to a directory.
package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"

	"web2pdfbot/internal/adapter"
	"web2pdfbot/internal/adapter/idmap"
	"web2pdfbot/internal/domain"
)

const (
	name        = "local"
	accountID   = domain.AccountID(1)
	chatID      = domain.ChatID(1)
	selfContact = domain.ContactID(1)
	userContact = domain.ContactID(2)
	eventBuffer = 16
)

// Config configures the terminal adapter.
type Config struct {
	UserName  string
	OutputDir string // received PDFs are copied here
	In        io.Reader
	Out       io.Writer
	Settings  adapter.ConfigStore
	Logger    *slog.Logger
}

// Adapter implements domain.Adapter over a reader and a writer.
type Adapter struct {
	userName  string
	outputDir string
	in        io.Reader
	out       io.Writer
	prompt    bool
	settings  adapter.ConfigStore
	logger    *slog.Logger

	msgs   *idmap.Map[domain.Message]
	events chan domain.AccountEvent

	outMu sync.Mutex
	seq   atomic.Int64
}

func New(cfg Config) *Adapter {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.UserName == "" {
		cfg.UserName = "you"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Settings == nil {
		cfg.Settings = adapter.NewMemoryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		userName:  cfg.UserName,
		outputDir: cfg.OutputDir,
		in:        cfg.In,
		out:       cfg.Out,
		prompt:    isTerminal(cfg.In),
		settings:  cfg.Settings,
		logger:    cfg.Logger.With("adapter", name),
		msgs:      idmap.New[domain.Message](idmap.DefaultSize),
		events:    make(chan domain.AccountEvent, eventBuffer),
	}
}

// isTerminal reports whether r is an interactive terminal; the prompt is
// only shown then.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *Adapter) Name() string { return name }

func checkAccount(acc domain.AccountID) error {
	if acc != accountID {
		return fmt.Errorf("local: unknown account %d", acc)
	}
	return nil
}

func (a *Adapter) AccountIDs(context.Context) ([]domain.AccountID, error) {
	return []domain.AccountID{accountID}, nil
}

func (a *Adapter) GetConfig(ctx context.Context, acc domain.AccountID, key string) (string, error) {
	if err := checkAccount(acc); err != nil {
		return "", err
	}
	return a.settings.Get(ctx, acc, key)
}

func (a *Adapter) SetConfig(ctx context.Context, acc domain.AccountID, key, value string) error {
	if err := checkAccount(acc); err != nil {
		return err
	}
	return a.settings.Set(ctx, acc, key, value)
}

func (a *Adapter) DeleteMessages(_ context.Context, acc domain.AccountID, ids []domain.MsgID) error {
	if err := checkAccount(acc); err != nil {
		return err
	}
	for _, id := range ids {
		a.msgs.Delete(int64(id))
	}
	return nil
}

func (a *Adapter) GetMessage(_ context.Context, acc domain.AccountID, id domain.MsgID) (domain.Message, error) {
	if err := checkAccount(acc); err != nil {
		return domain.Message{}, err
	}
	m, ok := a.msgs.Get(int64(id))
	if !ok {
		return domain.Message{}, fmt.Errorf("local: unknown message %d", id)
	}
	m.ID = id
	return m, nil
}

func (a *Adapter) GetBasicChatInfo(_ context.Context, acc domain.AccountID, id domain.ChatID) (domain.BasicChat, error) {
	if err := checkAccount(acc); err != nil {
		return domain.BasicChat{}, err
	}
	if id != chatID {
		return domain.BasicChat{}, fmt.Errorf("local: unknown chat %d", id)
	}
	return domain.BasicChat{ID: chatID, Name: a.userName, Type: domain.ChatSingle}, nil
}

func (a *Adapter) GetContact(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.Contact, error) {
	if err := checkAccount(acc); err != nil {
		return domain.Contact{}, err
	}
	switch id {
	case selfContact:
		displayName, _ := a.settings.Get(ctx, acc, domain.ConfigDisplayName)
		return domain.Contact{ID: id, DisplayName: displayName, IsBot: true}, nil
	case userContact:
		return domain.Contact{ID: id, DisplayName: a.userName}, nil
	}
	return domain.Contact{}, fmt.Errorf("local: unknown contact %d", id)
}

func (a *Adapter) CreateChatByContactID(_ context.Context, acc domain.AccountID, id domain.ContactID) (domain.ChatID, error) {
	if err := checkAccount(acc); err != nil {
		return 0, err
	}
	if id != userContact {
		return 0, fmt.Errorf("local: unknown contact %d", id)
	}
	return chatID, nil
}

// SendMsg prints text replies. Files are copied to the output directory,
// since the sender removes its copy right after sending.
func (a *Adapter) SendMsg(ctx context.Context, acc domain.AccountID, chat domain.ChatID, data domain.MsgData) (domain.MsgID, error) {
	if err := checkAccount(acc); err != nil {
		return 0, err
	}
	if chat != chatID {
		return 0, fmt.Errorf("local: unknown chat %d", chat)
	}

	text := data.Text
	if data.File != "" {
		saved, err := a.saveFile(data.File)
		if err != nil {
			return 0, err
		}
		text = strings.TrimSpace("saved " + saved + "\n" + text)
	}

	botName, _ := a.settings.Get(ctx, acc, domain.ConfigDisplayName)
	if botName == "" {
		botName = "bot"
	}
	a.outMu.Lock()
	fmt.Fprintf(a.out, "\r--- %s ---\n%s\n", botName, text)
	a.showPrompt()
	a.outMu.Unlock()

	return domain.MsgID(a.intern(domain.Message{ChatID: chatID, FromID: selfContact, Text: data.Text, IsBot: true, FromSelf: true})), nil
}

func (a *Adapter) saveFile(src string) (string, error) {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(a.outputDir, filepath.Base(src))
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy attachment: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

func (a *Adapter) intern(m domain.Message) int64 {
	return a.msgs.Put(strconv.FormatInt(a.seq.Add(1), 10), m)
}

func (a *Adapter) showPrompt() {
	if a.prompt {
		fmt.Fprintf(a.out, "%s> ", a.userName)
	}
}

func (a *Adapter) Events() <-chan domain.AccountEvent { return a.events }

// Run greets the user, then reports each input line as a message until
// EOF, /quit or ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.events)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	// the greeting goes through the same path as a finished pairing
	if !adapter.Emit(ctx, a.events, domain.AccountEvent{
		Account: accountID,
		Event:   domain.Event{Kind: domain.EventSecureJoinInviterProgress, ContactID: userContact, Progress: domain.PairingComplete},
	}) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			switch line {
			case "":
				a.outMu.Lock()
				a.showPrompt()
				a.outMu.Unlock()
				continue
			case "/quit", "/exit", "/q":
				a.logger.Info("user requested quit")
				return nil
			}
			ev := a.lineEvent(line)
			if !adapter.Emit(ctx, a.events, ev) {
				return nil
			}
		}
	}
}

func (a *Adapter) lineEvent(line string) domain.AccountEvent {
	id := a.intern(domain.Message{ChatID: chatID, FromID: userContact, Text: line})
	return domain.AccountEvent{
		Account: accountID,
		Event:   domain.Event{Kind: domain.EventIncomingMsg, Raw: "line", ChatID: chatID, MsgID: domain.MsgID(id)},
	}
}

func (a *Adapter) Close() error { return nil }

var _ domain.Adapter = (*Adapter)(nil)
