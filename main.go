package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/backend"
	"github.com/slackerchris/Unicorn-Ai/internal/chat"
	"github.com/slackerchris/Unicorn-Ai/internal/config"
	"github.com/slackerchris/Unicorn-Ai/internal/history"
	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/persona"
	"github.com/slackerchris/Unicorn-Ai/internal/session"
	"github.com/slackerchris/Unicorn-Ai/internal/settings"
	"github.com/slackerchris/Unicorn-Ai/internal/storage"
)

func main() {
	cfgPath := os.Getenv("UNICORNAI_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	client := backend.NewClient(cfg.BackendURL, time.Duration(cfg.RequestTimeout)*time.Second, logger)

	registry, err := session.NewRegistry(store, logger)
	if err != nil {
		log.Fatalf("init session registry: %v", err)
	}
	directory := persona.NewDirectory(client, logger)
	chatLog := history.NewStore(store, registry, client, logger)
	prefs := settings.NewStore(store, logger)

	ui := &console{out: os.Stdout}
	controller := chat.NewController(chat.Options{
		Settings: prefs,
		Sessions: registry,
		History:  chatLog,
		Personas: directory,
		Backend:  client,
		Renderer: ui,
		Log:      logger,
	})

	ctx := context.Background()
	if err := controller.Start(ctx); err != nil {
		log.Fatalf("start client: %v", err)
	}

	runREPL(ctx, controller)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "bolt":
		return storage.OpenBolt(cfg.Storage.Path)
	case "sqlite", "sqlite3", "mysql":
		return storage.OpenSQL(cfg.Storage.Driver, cfg.Storage.DSN)
	case "redis":
		return storage.OpenRedis(storage.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// runREPL is a minimal reference presentation adapter: lines are messages,
// a few slash commands cover session and persona actions. Real front ends
// implement chat.Renderer with their own input handling.
func runREPL(ctx context.Context, controller *chat.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("unicorn-ai client. /help for commands, ctrl-d to quit.")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/help":
			fmt.Println("/sessions  /new  /switch <id>  /delete <id>  /persona <id>  /retry  /clear  /memory  /quit")
		case line == "/quit":
			return
		case line == "/sessions":
			for _, s := range controller.Sessions() {
				marker := " "
				if s.Active {
					marker = "*"
				}
				fmt.Printf("%s %s  %s (%d messages)\n", marker, s.ID, s.Name, s.MessageCount)
			}
		case line == "/new":
			if _, err := controller.NewSession(ctx); err == nil {
				fmt.Println("new session started")
			}
		case strings.HasPrefix(line, "/switch "):
			_ = controller.SwitchSession(ctx, strings.TrimPrefix(line, "/switch "))
		case strings.HasPrefix(line, "/delete "):
			_ = controller.DeleteSession(ctx, strings.TrimPrefix(line, "/delete "))
		case strings.HasPrefix(line, "/persona "):
			controller.SwitchPersona(ctx, strings.TrimPrefix(line, "/persona "))
		case line == "/retry":
			controller.RetryLastMessage(ctx)
		case line == "/clear":
			controller.ClearChat(ctx)
		case line == "/memory":
			controller.ToggleMemory(ctx)
		case line != "":
			controller.SendMessage(ctx, line, "")
		}
	}
}

// console is the line-oriented chat.Renderer. It prints messages once they
// are complete, skipping the intermediate redraws a streaming reply emits.
type console struct {
	out   *os.File
	shown int
	busy  bool
	msgs  []models.ChatMessage
}

func (c *console) RenderMessages(messages []models.ChatMessage) {
	c.msgs = messages
	if len(c.msgs) < c.shown {
		c.shown = len(c.msgs)
	}
	if !c.busy {
		c.flush()
	}
}

func (c *console) SetBusy(busy bool) {
	c.busy = busy
	if !busy {
		c.flush()
	}
}

func (c *console) flush() {
	for ; c.shown < len(c.msgs); c.shown++ {
		m := c.msgs[c.shown]
		name := string(m.Role)
		if m.Role == models.RoleAssistant && m.Persona != nil {
			name = m.Persona.Name
		}
		fmt.Fprintf(c.out, "[%s] %s\n", name, m.Content)
	}
}

func (c *console) RenderSessions([]models.SessionSummary) {}

func (c *console) RenderPersona(p models.Persona) {
	fmt.Fprintf(c.out, "-- talking to %s --\n", p.Name)
}

func (c *console) RenderStats(stats models.Stats) {
	if stats.MessageCount > 0 {
		fmt.Fprintf(c.out, "-- %d messages, avg %.1fs --\n", stats.MessageCount, stats.AverageResponseTime())
	}
}

func (c *console) ShowError(message string) {
	fmt.Fprintf(c.out, "!! %s\n", message)
}

func (c *console) ShowWelcome() {
	fmt.Fprintln(c.out, "-- new conversation, say hi --")
}

func (c *console) SystemStatus(healthy bool) {
	if !healthy {
		fmt.Fprintln(c.out, "!! backend unreachable")
	}
}

func (c *console) PlaySound(string) {}
