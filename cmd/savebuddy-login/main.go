// Command savebuddy-login signs the profile in from a terminal and stores
// the credential where the server and worker read it.
//
//	savebuddy-login password -user minji     (password from SAVEBUDDY_PASSWORD or stdin)
//	savebuddy-login oauth [-port 3000]       (captures the token of the federated login)
//	savebuddy-login sheets [-port 8085]      (authorizes the Google Sheets export)
//	savebuddy-login export [-kind savings] [-dir .] [-category 음식]
//	savebuddy-login whoami | logout
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"savebuddy/internal/api"
	"savebuddy/internal/cli"
	"savebuddy/internal/config"
	"savebuddy/internal/core"
	"savebuddy/internal/export"
	"savebuddy/internal/export/gsheets"
	"savebuddy/internal/log"
	"savebuddy/internal/session"
)

const authTimeout = 5 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, logger := cli.Init(log.ComponentSession)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	tokens := cli.Tokens(cfg, repo, true)
	client, err := api.New(cfg.APIBaseURL, tokens, cfg.HTTPTimeout)
	if err != nil {
		logger.Error("Failed to create API client", log.FieldError, err)
		os.Exit(1)
	}
	holder := session.NewHolder(client, tokens)
	client.OnUnauthorized(holder.Expire)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "password":
		err = passwordLogin(ctx, holder, args)
	case "oauth":
		err = oauthLogin(ctx, holder, args)
	case "sheets":
		err = sheetsLogin(ctx, cfg, args)
	case "export":
		err = exportRecords(ctx, client, args)
	case "whoami":
		err = whoami(ctx, holder)
	case "logout":
		err = holder.Logout(ctx)
		if err == nil {
			fmt.Println("Signed out.")
		}
	default:
		usage()
	}
	if err != nil {
		logger.Error("Command failed", "command", cmd, log.FieldError, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: savebuddy-login password|oauth|sheets|export|whoami|logout [flags]")
	os.Exit(2)
}

func passwordLogin(ctx context.Context, holder *session.Holder, args []string) error {
	fs := flag.NewFlagSet("password", flag.ExitOnError)
	user := fs.String("user", os.Getenv("SAVEBUDDY_USERNAME"), "username")
	_ = fs.Parse(args)
	if *user == "" {
		return errors.New("missing -user")
	}

	password := os.Getenv("SAVEBUDDY_PASSWORD")
	if password == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	u, err := holder.Login(ctx, *user, password)
	if err != nil {
		if msg := holder.State().Error; msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	fmt.Printf("Signed in as %s (%d).\n", displayName(u.Nickname, u.Username), u.ID)
	return nil
}

// oauthLogin serves the redirect the API sends the browser to after a
// federated login and keeps the token it carries.
func oauthLogin(ctx context.Context, holder *session.Holder, args []string) error {
	fs := flag.NewFlagSet("oauth", flag.ExitOnError)
	port := fs.String("port", "3000", "port the API redirects to")
	_ = fs.Parse(args)

	tokenCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/redirect", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "로그인 토큰이 없습니다.", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "로그인되었습니다. 이 창을 닫고 터미널로 돌아가세요.")
		select {
		case tokenCh <- token:
		default:
		}
	})

	token, err := awaitCallback(ctx, ":"+*port, mux, tokenCh,
		fmt.Sprintf("Open this URL to sign in:\n%s\n", holder.LoginURL()))
	if err != nil {
		return err
	}
	u, err := holder.AcceptToken(ctx, token)
	if err != nil {
		return fmt.Errorf("accept token: %w", err)
	}
	fmt.Printf("Signed in as %s (%d).\n", displayName(u.Nickname, u.Username), u.ID)
	return nil
}

// sheetsLogin runs the Google authorization code flow for the spreadsheet
// export and saves the token to GOOGLE_OAUTH_TOKEN_FILE.
func sheetsLogin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sheets", flag.ExitOnError)
	port := fs.String("port", "8085", "local port of the OAuth redirect URI")
	_ = fs.Parse(args)

	oauthCfg, ok, err := gsheets.OAuthConfig()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}
	// The OAuth client must list this URI as an authorized redirect.
	oauthCfg.RedirectURL = "http://localhost:" + *port + "/callback"

	state := cfg.Profile + "-" + fmt.Sprint(time.Now().UnixNano())
	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if errStr := r.URL.Query().Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		select {
		case codeCh <- r.URL.Query().Get("code"):
		default:
		}
	})

	code, err := awaitCallback(ctx, ":"+*port, mux, codeCh,
		fmt.Sprintf("Open this URL to authorize:\n%s\n", oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline)))
	if err != nil {
		return err
	}
	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}

	outFile := os.Getenv("GOOGLE_OAUTH_TOKEN_FILE")
	if outFile == "" {
		outFile = "token.json"
	}
	f, err := os.OpenFile(outFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	fmt.Printf("Saved token to %s\n", outFile)
	return nil
}

// awaitCallback serves mux on addr until a value arrives on ch, the
// timeout passes or ctx is cancelled.
func awaitCallback(ctx context.Context, addr string, mux http.Handler, ch <-chan string, prompt string) (string, error) {
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Print(prompt)
	select {
	case v := <-ch:
		return v, nil
	case err := <-errCh:
		return "", fmt.Errorf("callback server: %w", err)
	case <-time.After(authTimeout):
		return "", errors.New("authorization timed out")
	case <-ctx.Done():
		return "", errors.New("interrupted")
	}
}

// exportRecords writes the signed-in user's records to an XLSX file.
func exportRecords(ctx context.Context, client *api.Client, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	kind := fs.String("kind", string(core.Savings), "savings or expense")
	dir := fs.String("dir", ".", "directory to write the workbook to")
	category := fs.String("category", "", "only records of this category")
	_ = fs.Parse(args)

	k := core.RecordKind(*kind)
	if !k.Valid() {
		return fmt.Errorf("unknown record kind %q", *kind)
	}
	scope := export.Scope{Kind: export.ScopeAll}
	if *category != "" {
		scope = export.Scope{Kind: export.ScopeCategory, Category: core.Category(*category)}
	}

	list, err := client.Records(k).All(ctx)
	if err != nil {
		return fmt.Errorf("fetch records: %w", err)
	}
	sheet, err := export.Build(k, list, scope, time.Now())
	if err != nil {
		return err
	}
	path, err := export.SaveXLSX(*dir, sheet)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d rows (total %s) to %s\n", sheet.Count, sheet.Total, path)
	return nil
}

func whoami(ctx context.Context, holder *session.Holder) error {
	u, err := holder.GetCurrentUser(ctx)
	if err != nil {
		return err
	}
	if u == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	fmt.Printf("%s (%d), level %d, total savings %s, monthly target %s\n",
		displayName(u.Nickname, u.Username), u.ID, u.Level, u.TotalSavings, u.MonthlyTarget)
	return nil
}

func displayName(nickname, username string) string {
	if nickname != "" {
		return nickname
	}
	return username
}
