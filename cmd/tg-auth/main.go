// Command tg-auth logs a telegram account in for tgsaver.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tgsaver/internal/config"
	"github.com/blockedby/tgsaver/internal/database"
	"github.com/blockedby/tgsaver/internal/logger"
	"github.com/blockedby/tgsaver/internal/telegram"
)

func main() {
	fmt.Println("=== tgsaver auth tool ===")
	fmt.Println("logs in to telegram so tgsaver can read your channels")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	// try to detect telegram desktop
	tdataPath := getTelegramDesktopPath()
	accounts, tdataErr := tdesktop.Read(tdataPath, nil)
	hasTData := tdataErr == nil && len(accounts) > 0

	fmt.Println("choose authentication method:")
	fmt.Println("  1. scan a QR code with the telegram app (recommended, saved to the database)")
	if hasTData {
		fmt.Printf("  2. import the telegram desktop session at %s\n", tdataPath)
	} else {
		fmt.Println("  2. import a telegram desktop session (enter path)")
	}
	fmt.Println("  3. authenticate with phone number and print a session string")
	fmt.Print("\nenter choice [1]: ")

	choice, _ := reader.ReadString('\n')
	switch strings.TrimSpace(choice) {
	case "2":
		if !hasTData {
			accounts, tdataErr = askTData(reader)
			if tdataErr != nil || len(accounts) == 0 {
				fmt.Printf("error: no telegram desktop session found: %v\n", tdataErr)
				os.Exit(1)
			}
		}
		if err := importTData(accounts, reader); err != nil {
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
	case "3":
		apiID, apiHash := getAPICredentials(reader)
		client, err := authWithPhone(apiID, apiHash, reader)
		printSessionString(client, err)
	default:
		if err := authWithQR(); err != nil {
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
	}
}

// authEnv is the config, database and manager the database-backed login
// methods share.
type authEnv struct {
	ctx     context.Context
	cfg     *config.Config
	manager *telegram.Manager
	close   func()
}

func openAuthEnv() (*authEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, fmt.Errorf("TG_API_ID and TG_API_HASH are required")
	}
	// keep the console for prompts and the QR code
	if err := logger.Init(logger.Options{Level: "warn", File: cfg.LogFile}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		return nil, err
	}

	manager := telegram.NewManager(cfg, db.GORM)
	if err := manager.Init(ctx); err != nil {
		db.Close()
		cancel()
		return nil, err
	}
	return &authEnv{
		ctx:     ctx,
		cfg:     cfg,
		manager: manager,
		close: func() {
			manager.Stop()
			db.Close()
			cancel()
		},
	}, nil
}

// authWithQR runs the QR login through telegram.Manager, which stores the
// session in DATABASE_URL where tgsaver picks it up.
func authWithQR() error {
	env, err := openAuthEnv()
	if err != nil {
		return err
	}
	defer env.close()

	if env.manager.GetStatus() == telegram.StatusReady {
		fmt.Println("\n✓ already logged in, nothing to do")
		return nil
	}

	fmt.Println("\nopen telegram on your phone: settings > devices > link desktop device")
	err = env.manager.StartQR(env.ctx, func(url string) {
		fmt.Println()
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		fmt.Println("waiting for scan... (the code refreshes every 30 seconds, ctrl+c to abort)")
	})
	if errors.Is(err, telegram.ErrPasswordNeeded) {
		return fmt.Errorf("%w\nrun tg-auth again and choose option 2 or 3", err)
	}
	if err != nil {
		return err
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("session saved to %s\n", env.cfg.DatabaseURL)
	return nil
}

func printSessionString(client *gotgproto.Client, err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	// export session string
	sessionString, err := client.ExportStringSession()
	if err != nil {
		fmt.Printf("error exporting session: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nadd this to your .env file as TG_SESSION_STRING")
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
}

// askTData asks for a telegram desktop folder.
func askTData(reader *bufio.Reader) ([]tdesktop.Account, error) {
	fmt.Print("enter telegram desktop path: ")
	customPath, _ := reader.ReadString('\n')
	customPath = strings.TrimSpace(customPath)
	if customPath == "" {
		return nil, fmt.Errorf("no path given")
	}
	// add tdata subfolder if not present
	if !strings.HasSuffix(customPath, "tdata") {
		customPath = filepath.Join(customPath, "tdata")
	}
	return tdesktop.Read(customPath, nil)
}

// getTelegramDesktopPath returns the path to Telegram Desktop data directory
func getTelegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// getAPICredentials reads API ID and Hash from env or prompts user
func getAPICredentials(reader *bufio.Reader) (int, string) {
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")

	if apiIDStr == "" {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		apiIDStr, _ = reader.ReadString('\n')
		apiIDStr = strings.TrimSpace(apiIDStr)
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid api_id: %v\n", err)
		os.Exit(1)
	}

	return apiID, apiHash
}

// importTData copies a Telegram Desktop session into DATABASE_URL. The
// desktop app stays logged in; both clients share the authorization.
func importTData(accounts []tdesktop.Account, reader *bufio.Reader) error {
	account := accounts[0]
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram accounts, select one [1-%d]: ", len(accounts), len(accounts))
		choice, _ := reader.ReadString('\n')
		if n, err := strconv.Atoi(strings.TrimSpace(choice)); err == nil && n >= 1 && n <= len(accounts) {
			account = accounts[n-1]
		}
	}

	data, err := session.TDesktopSession(account)
	if err != nil {
		return fmt.Errorf("read desktop session: %w", err)
	}

	env, err := openAuthEnv()
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.manager.ImportSession(env.ctx, data); err != nil {
		return err
	}
	if env.manager.GetStatus() != telegram.StatusReady {
		return fmt.Errorf("session imported but the client did not start, see %s", env.cfg.LogFile)
	}
	fmt.Println("\n✓ desktop session imported")
	return nil
}

// authWithPhone authenticates using phone number (SMS/code)
func authWithPhone(apiID int, apiHash string, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")

	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open("tg_session")),
			DisableCopyright: true,
		},
	)

	if err == nil {
		fmt.Println("\nnote: tg_session.db was created for temporary storage.")
		fmt.Println("you can delete it after copying the session string.")
	}

	return client, err
}
