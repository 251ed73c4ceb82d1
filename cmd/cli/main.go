package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mintweave/nft-market-engine/internal/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	apiUrl string
	client *retryablehttp.Client
)

func main() {
	config.Init()

	apiUrl = fmt.Sprintf("http://localhost:%s", config.Get().ApiPort)
	client = retryablehttp.NewClient()
	client.RetryMax = config.Get().WebhookRetries
	client.Logger = nil

	app := &cli.App{
		Name:  "market-cli",
		Usage: "operate the market engine over its HTTP gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "", Usage: "override the API base url"},
		},
		Before: func(c *cli.Context) error {
			if c.String("api") != "" {
				apiUrl = c.String("api")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "call",
				Usage:  "submit a raw program call: call <caller> <receiver> <method> [args-json]",
				Action: submitRawCall,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "deposit", Value: "0", Usage: "attached deposit in native units"},
				},
			},
			{
				Name:   "mint",
				Usage:  "mint a token: mint <minter> <owner>",
				Action: mintToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "royalty", Value: "", Usage: "royalty json, e.g. {\"split_between\":{\"a\":10000},\"percentage\":2000}"},
				},
			},
			{
				Name:   "list",
				Usage:  "approve the market and list a token: list <owner> <token-id> <price>",
				Action: listToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "ft", Value: "", Usage: "list in a fungible token instead of native"},
					&cli.StringFlag{Name: "deposit", Value: "1000000000000000000000", Usage: "approval storage deposit"},
				},
			},
			{
				Name:   "buy",
				Usage:  "buy a listing with native funds: buy <buyer> <contract> <token-id> <amount>",
				Action: buyToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "affiliate", Value: "", Usage: "affiliate account id"},
				},
			},
			{
				Name:   "unlist",
				Usage:  "remove a listing: unlist <owner> <contract> <token-id>",
				Action: unlistToken,
			},
			{
				Name:   "account",
				Usage:  "show balances and ban state: account <account-id>",
				Action: showAccount,
			},
			{
				Name:   "listings",
				Usage:  "show all live listings",
				Action: showListings,
			},
			{
				Name:   "events",
				Usage:  "tail the event journal",
				Action: showEvents,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		zap.L().With(zap.Error(err)).Fatal("Failed to run CLI")
	}
}

type callRequest struct {
	Caller   string          `json:"caller"`
	Receiver string          `json:"receiver"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
	Deposit  string          `json:"deposit,omitempty"`
}

func submitRawCall(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return fmt.Errorf("usage: call <caller> <receiver> <method> [args-json]")
	}

	args := c.Args().Get(3)
	if args == "" {
		args = "{}"
	}

	return postCall(callRequest{
		Caller:   c.Args().Get(0),
		Receiver: c.Args().Get(1),
		Method:   c.Args().Get(2),
		Args:     json.RawMessage(args),
		Deposit:  c.String("deposit"),
	})
}

func mintToken(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return fmt.Errorf("usage: mint <minter> <owner>")
	}

	args := map[string]interface{}{"owner_id": c.Args().Get(1)}
	if royalty := c.String("royalty"); royalty != "" {
		args["royalty"] = json.RawMessage(royalty)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}

	return postCall(callRequest{
		Caller:   c.Args().Get(0),
		Receiver: config.Get().Ledger.Account,
		Method:   "mint",
		Args:     raw,
	})
}

func listToken(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return fmt.Errorf("usage: list <owner> <token-id> <price>")
	}

	msg := map[string]interface{}{"price": c.Args().Get(2)}
	if ft := c.String("ft"); ft != "" {
		msg["ftContract"] = ft
	}
	msgRaw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	args, err := json.Marshal(map[string]interface{}{
		"token_id":   c.Args().Get(1),
		"account_id": config.Get().Market.Account,
		"msg":        json.RawMessage(msgRaw),
	})
	if err != nil {
		return err
	}

	return postCall(callRequest{
		Caller:   c.Args().Get(0),
		Receiver: config.Get().Ledger.Account,
		Method:   "nft_approve",
		Args:     args,
		Deposit:  c.String("deposit"),
	})
}

func buyToken(c *cli.Context) error {
	if c.Args().Len() < 4 {
		return fmt.Errorf("usage: buy <buyer> <contract> <token-id> <amount>")
	}

	args := map[string]string{
		"contract_id": c.Args().Get(1),
		"token_id":    c.Args().Get(2),
	}
	if affiliate := c.String("affiliate"); affiliate != "" {
		args["affiliate_id"] = affiliate
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}

	return postCall(callRequest{
		Caller:   c.Args().Get(0),
		Receiver: config.Get().Market.Account,
		Method:   "buy",
		Args:     raw,
		Deposit:  c.Args().Get(3),
	})
}

func unlistToken(c *cli.Context) error {
	if c.Args().Len() < 3 {
		return fmt.Errorf("usage: unlist <owner> <contract> <token-id>")
	}

	raw, err := json.Marshal(map[string]interface{}{
		"contract_id": c.Args().Get(1),
		"token_ids":   []string{c.Args().Get(2)},
	})
	if err != nil {
		return err
	}

	return postCall(callRequest{
		Caller:   c.Args().Get(0),
		Receiver: config.Get().Market.Account,
		Method:   "unlist",
		Args:     raw,
		Deposit:  "1",
	})
}

func showAccount(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("usage: account <account-id>")
	}

	return printGet(fmt.Sprintf("%s/accounts/%s", apiUrl, c.Args().Get(0)))
}

func showListings(c *cli.Context) error {
	return printGet(fmt.Sprintf("%s/listings", apiUrl))
}

func showEvents(c *cli.Context) error {
	return printGet(fmt.Sprintf("%s/events?limit=%d", apiUrl, c.Int("limit")))
}

func postCall(req callRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := client.Post(fmt.Sprintf("%s/calls", apiUrl), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printBody(resp.Body)
}

func printGet(url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printBody(resp.Body)
}

func printBody(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())

	return nil
}
