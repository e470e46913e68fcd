package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usvprotocol/cmd/internal/secret"
	"usvprotocol/services/usvd/journal"
	"usvprotocol/services/usvd/server"
)

const (
	tokenCommand  = "token"
	exportCommand = "export"
	verifyCommand = "verify"
	statusCommand = "status"

	defaultSecretEnv = "USVD_JWT_SECRET"
	defaultJournal   = "file:usvd-journal.db"
	defaultEndpoint  = "http://localhost:8480"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case exportCommand:
		err = runExport(os.Args[2:], os.Stdout)
	case verifyCommand:
		err = runVerify(os.Args[2:], os.Stdout)
	case statusCommand:
		err = runStatus(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	account := fs.String("account", "", "Account address placed in the sub claim")
	scopes := fs.String("scopes", server.ScopeAccount, "Comma separated scopes (account, keeper, operator)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	issuer := fs.String("issuer", "", "Issuer claim, must match the daemon's auth.issuer")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the signing secret")
	fs.Parse(args)

	if !common.IsHexAddress(*account) {
		return fmt.Errorf("-account must be a hex address")
	}
	var list []string
	for _, scope := range strings.Split(*scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			list = append(list, scope)
		}
	}
	key, err := secret.NewSource(*secretEnv, "jwt signing secret").Get()
	if err != nil {
		return err
	}
	token, err := server.SignToken(key, *issuer, common.HexToAddress(*account), list, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ExitOnError)
	dsn := fs.String("dsn", defaultJournal, "Journal database DSN")
	path := fs.String("out", "usvd-journal.parquet", "Parquet output path")
	after := fs.Uint64("after", 0, "Export entries after this sequence number")
	fs.Parse(args)

	j, err := journal.Open(*dsn, nil)
	if err != nil {
		return err
	}
	defer j.Close()
	n, err := j.ExportParquet(context.Background(), *path, *after)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d entries to %s\n", n, *path)
	return nil
}

func runVerify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(verifyCommand, flag.ExitOnError)
	dsn := fs.String("dsn", defaultJournal, "Journal database DSN")
	fs.Parse(args)

	j, err := journal.Open(*dsn, nil)
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.Verify(context.Background()); err != nil {
		return err
	}
	seq, hash := j.Tip()
	fmt.Fprintf(out, "journal intact: %d entries, tip %s\n", seq, hash)
	return nil
}

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(statusCommand, flag.ExitOnError)
	endpoint := fs.String("endpoint", defaultEndpoint, "usvd HTTP endpoint")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	fs.Parse(args)

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(strings.TrimRight(*endpoint, "/") + "/v1/system")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(out)
	return err
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: usvctl <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  %s   sign an API token\n", tokenCommand)
	fmt.Fprintf(os.Stderr, "  %s  write the event journal to parquet\n", exportCommand)
	fmt.Fprintf(os.Stderr, "  %s  check the journal hash chain\n", verifyCommand)
	fmt.Fprintf(os.Stderr, "  %s  print the market summary\n", statusCommand)
}
