// Package deltachat talks to a deltachat-rpc-server process over its
// stdio JSON-RPC interface.
package deltachat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"web2pdfbot/internal/domain"
)

const (
	defaultRPCServer = "deltachat-rpc-server"
	eventBuffer      = 64
	shutdownTimeout  = 5 * time.Second

	// configLastMsgID holds the id of the last message handed to the bot.
	configLastMsgID = "last_msg_id"
)

// Config configures Start.
type Config struct {
	RPCServer   string // binary name or path
	AccountsDir string // passed as DC_ACCOUNTS_PATH
	Logger      *slog.Logger
}

// Client implements domain.Adapter on top of an RPC connection.
type Client struct {
	rpc    *RPC
	logger *slog.Logger
	events chan domain.AccountEvent

	// set when the client owns the server process
	cmd    *exec.Cmd
	stdin  io.Closer
	exited chan struct{}

	closeOnce sync.Once
}

// Start launches the RPC server and connects to it.
func Start(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RPCServer == "" {
		cfg.RPCServer = defaultRPCServer
	}
	logger := cfg.Logger.With("adapter", "deltachat")

	cmd := exec.Command(cfg.RPCServer)
	cmd.Env = os.Environ()
	if cfg.AccountsDir != "" {
		if err := os.MkdirAll(cfg.AccountsDir, 0o700); err != nil {
			return nil, fmt.Errorf("create accounts dir: %w", err)
		}
		cmd.Env = append(cmd.Env, "DC_ACCOUNTS_PATH="+cfg.AccountsDir)
	}
	cmd.Stderr = &logWriter{logger: logger}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("rpc stdin: %w", err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.RPCServer, err)
	}
	logger.Info("rpc server started", "path", cfg.RPCServer, "pid", cmd.Process.Pid, "accounts", cfg.AccountsDir)

	c := NewClient(NewRPC(pr, stdin, logger), logger)
	c.cmd = cmd
	c.stdin = stdin
	c.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Warn("rpc server exited", "err", err)
		}
		pw.Close()
		close(c.exited)
	}()
	return c, nil
}

// NewClient wraps an established RPC connection.
func NewClient(rpc *RPC, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:    rpc,
		logger: logger,
		events: make(chan domain.AccountEvent, eventBuffer),
	}
}

func (c *Client) Name() string { return "deltachat" }

func (c *Client) AccountIDs(ctx context.Context) ([]domain.AccountID, error) {
	var ids []domain.AccountID
	if err := c.rpc.Call(ctx, "get_all_account_ids", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Client) GetConfig(ctx context.Context, acc domain.AccountID, key string) (string, error) {
	var value *string
	if err := c.rpc.Call(ctx, "get_config", &value, acc, key); err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

func (c *Client) SetConfig(ctx context.Context, acc domain.AccountID, key, value string) error {
	return c.rpc.Call(ctx, "set_config", nil, acc, key, value)
}

func (c *Client) DeleteMessages(ctx context.Context, acc domain.AccountID, ids []domain.MsgID) error {
	return c.rpc.Call(ctx, "delete_messages", nil, acc, ids)
}

func (c *Client) GetMessage(ctx context.Context, acc domain.AccountID, id domain.MsgID) (domain.Message, error) {
	var m rpcMessage
	if err := c.rpc.Call(ctx, "get_message", &m, acc, id); err != nil {
		return domain.Message{}, err
	}
	return m.toDomain(), nil
}

func (c *Client) GetBasicChatInfo(ctx context.Context, acc domain.AccountID, id domain.ChatID) (domain.BasicChat, error) {
	var chat rpcBasicChat
	if err := c.rpc.Call(ctx, "get_basic_chat_info", &chat, acc, id); err != nil {
		return domain.BasicChat{}, err
	}
	return chat.toDomain(), nil
}

func (c *Client) GetContact(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.Contact, error) {
	var contact rpcContact
	if err := c.rpc.Call(ctx, "get_contact", &contact, acc, id); err != nil {
		return domain.Contact{}, err
	}
	return contact.toDomain(), nil
}

func (c *Client) CreateChatByContactID(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.ChatID, error) {
	var chatID domain.ChatID
	if err := c.rpc.Call(ctx, "create_chat_by_contact_id", &chatID, acc, id); err != nil {
		return 0, err
	}
	return chatID, nil
}

func (c *Client) SendMsg(ctx context.Context, acc domain.AccountID, chat domain.ChatID, data domain.MsgData) (domain.MsgID, error) {
	var id domain.MsgID
	if err := c.rpc.Call(ctx, "send_msg", &id, acc, chat, toMessageData(data)); err != nil {
		return 0, err
	}
	return id, nil
}

// InviteLink returns the SecureJoin QR code text of the account.
func (c *Client) InviteLink(ctx context.Context, acc domain.AccountID) (string, error) {
	var qr string
	if err := c.rpc.Call(ctx, "get_chat_securejoin_qr_code", &qr, acc, nil); err != nil {
		return "", err
	}
	return qr, nil
}

func (c *Client) AddAccount(ctx context.Context) (domain.AccountID, error) {
	var id domain.AccountID
	if err := c.rpc.Call(ctx, "add_account", &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Configure logs the account in with the addr and mail_pw set beforehand.
// It blocks until the server finishes.
func (c *Client) Configure(ctx context.Context, acc domain.AccountID) error {
	return c.rpc.Call(ctx, "configure", nil, acc)
}

func (c *Client) Events() <-chan domain.AccountEvent { return c.events }

// Run starts IO for all accounts and polls events until ctx is done or the
// connection fails. It must be called at most once.
//
// New messages are not taken from IncomingMsg events. Each event, and the
// start itself, pulls the account's pending messages with get_next_msgs, so
// messages that arrived while the bot was offline are delivered too. Progress
// is kept in the account's last_msg_id.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	if err := c.rpc.Call(ctx, "start_io_for_all_accounts", nil); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("start io: %w", err)
	}

	accounts, err := c.AccountIDs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acc := range accounts {
		if err := c.pullMessages(ctx, acc); err != nil {
			return c.runErr(ctx, err)
		}
	}

	for {
		var ev rpcEvent
		err := c.rpc.Call(ctx, "get_next_event", &ev)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get next event: %w", err)
		}

		ae := ev.toDomain()
		if ae.Event.Kind == domain.EventIncomingMsg {
			if err := c.pullMessages(ctx, ae.Account); err != nil {
				return c.runErr(ctx, err)
			}
			continue
		}
		if !c.emit(ctx, ae) {
			return nil
		}
	}
}

// pullMessages emits one IncomingMsg event per pending message of acc and
// advances last_msg_id past it. Messages of the account itself and of the
// device chat are skipped.
func (c *Client) pullMessages(ctx context.Context, acc domain.AccountID) error {
	var ids []domain.MsgID
	if err := c.rpc.Call(ctx, "get_next_msgs", &ids, acc); err != nil {
		return fmt.Errorf("get next msgs: %w", err)
	}
	for _, id := range ids {
		var m rpcMessage
		if err := c.rpc.Call(ctx, "get_message", &m, acc, id); err != nil {
			return fmt.Errorf("get message %d: %w", id, err)
		}
		if m.FromID != contactIDSelf && m.FromID != contactIDDevice {
			ae := domain.AccountEvent{
				Account: acc,
				Event: domain.Event{
					Kind:   domain.EventIncomingMsg,
					Raw:    "IncomingMsg",
					ChatID: domain.ChatID(m.ChatID),
					MsgID:  id,
				},
			}
			if !c.emit(ctx, ae) {
				return ctx.Err()
			}
		}
		if err := c.SetConfig(ctx, acc, configLastMsgID, strconv.FormatInt(int64(id), 10)); err != nil {
			return fmt.Errorf("set last_msg_id: %w", err)
		}
	}
	return nil
}

func (c *Client) emit(ctx context.Context, ae domain.AccountEvent) bool {
	select {
	case c.events <- ae:
		return true
	case <-ctx.Done():
		return false
	}
}

// runErr turns a failure inside Run into its result. Cancellation is a clean
// stop.
func (c *Client) runErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops the server process if the client started it.
func (c *Client) Close() error {
	if c.cmd == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		// the server exits on stdin EOF
		c.stdin.Close()
		select {
		case <-c.exited:
		case <-time.After(shutdownTimeout):
			c.logger.Warn("rpc server did not exit, killing it")
			c.cmd.Process.Kill()
			<-c.exited
		}
	})
	return nil
}

// logWriter forwards the server's stderr to the logger.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Debug("rpc server", "line", line)
		}
	}
	return len(p), nil
}

var (
	_ domain.Adapter    = (*Client)(nil)
	_ domain.Inviter    = (*Client)(nil)
	_ domain.Configurer = (*Client)(nil)
)
