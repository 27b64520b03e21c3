// Command marketctl is the operator and trader CLI for a marketplace node.
// Mutating commands sign each request with the configured key.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/platform/marketapi"
)

func main() {
	app := &cli.App{
		Name:  "marketctl",
		Usage: "trade on and administer a marketplace node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Value: "http://localhost:8000", Usage: "node base URL", EnvVars: []string{"NFTMARKET_API"}},
			&cli.StringFlag{Name: "key", Usage: "hex private key", EnvVars: []string{"NFTMARKET_KEY"}},
			&cli.StringFlag{Name: "keyfile", Usage: "encrypted key file", EnvVars: []string{"NFTMARKET_KEYFILE"}},
			&cli.StringFlag{Name: "password", Usage: "keyfile password", EnvVars: []string{"NFTMARKET_KEY_PASSWORD"}},
		},
		Commands: []*cli.Command{
			keyCommand(),
			{
				Name:   "config",
				Usage:  "show fee rate, fee recipient and owner",
				Action: func(c *cli.Context) error { return printRaw(client(c, false).Config(c.Context)) },
			},
			adminCommand(),
			listingCommand(),
			offerCommand(),
			{
				Name:      "approve",
				Usage:     "approve the marketplace to transfer one item",
				ArgsUsage: "ASSET TOKEN",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					return client(c, true).Approve(c.Context, asset, id)
				},
			},
			{
				Name:      "operator",
				Usage:     "grant or revoke an operator over all of your items",
				ArgsUsage: "ASSET OPERATOR",
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "revoke", Usage: "revoke instead of grant"}},
				Action: func(c *cli.Context) error {
					asset, err := addressArg(c, 0)
					if err != nil {
						return err
					}
					operator, err := addressArg(c, 1)
					if err != nil {
						return err
					}
					return client(c, true).SetOperator(c.Context, asset, operator, !c.Bool("revoke"))
				},
			},
			{
				Name:      "owner",
				Usage:     "show the owner of an item",
				ArgsUsage: "ASSET TOKEN",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					owner, err := client(c, false).OwnerOf(c.Context, asset, id)
					if err != nil {
						return err
					}
					fmt.Println(owner.Hex())
					return nil
				},
			},
			{
				Name:      "balance",
				Usage:     "show an account balance",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					addr, err := addressArg(c, 0)
					if err != nil {
						return err
					}
					bal, err := client(c, false).Balance(c.Context, addr)
					if err != nil {
						return err
					}
					fmt.Println(bal.Dec())
					return nil
				},
			},
			{
				Name:   "collections",
				Usage:  "list registered collections",
				Action: func(c *cli.Context) error { return printRaw(client(c, false).Collections(c.Context)) },
			},
			{
				Name:  "sales",
				Usage: "list recent sales",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "asset", Usage: "only sales of this collection"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: func(c *cli.Context) error {
					var asset *common.Address
					if v := c.String("asset"); v != "" {
						a, err := parseAddress(v)
						if err != nil {
							return err
						}
						asset = &a
					}
					return printRaw(client(c, false).Sales(c.Context, asset, c.Int("limit")))
				},
			},
			{
				Name:   "events",
				Usage:  "list the committed event log",
				Flags:  []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action: func(c *cli.Context) error { return printRaw(client(c, false).Events(c.Context, c.Int("limit"))) },
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("marketctl failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func keyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "manage signing keys",
		Subcommands: []*cli.Command{
			{
				Name:  "new",
				Usage: "generate a key; with --out, write it encrypted with --password",
				Flags: []cli.Flag{&cli.StringFlag{Name: "out", Usage: "encrypted key file to write"}},
				Action: func(c *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					signer, err := crypto.NewSigner(key)
					if err != nil {
						return err
					}
					out := c.String("out")
					if out == "" {
						fmt.Printf("address: %s\nkey:     %s\n", signer.Address().Hex(), key)
						return nil
					}
					if err := writeEncrypted(out, key, c.String("password")); err != nil {
						return err
					}
					fmt.Printf("address: %s\nwritten: %s\n", signer.Address().Hex(), out)
					return nil
				},
			},
			{
				Name:      "encrypt",
				Usage:     "encrypt the --key with --password into FILE",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("usage: marketctl key encrypt FILE", 2)
					}
					key, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: c.String("key")})
					if err != nil {
						return err
					}
					return writeEncrypted(c.Args().First(), key, c.String("password"))
				},
			},
			{
				Name:  "address",
				Usage: "print the address of the configured key",
				Action: func(c *cli.Context) error {
					signer, err := loadSigner(c)
					if err != nil {
						return err
					}
					fmt.Println(signer.Address().Hex())
					return nil
				},
			},
		},
	}
}

func adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "owner-only configuration changes",
		Subcommands: []*cli.Command{
			{
				Name:      "fee-rate",
				Usage:     "set the marketplace fee in basis points",
				ArgsUsage: "BPS",
				Action: func(c *cli.Context) error {
					var bps uint16
					if _, err := fmt.Sscan(c.Args().First(), &bps); err != nil {
						return cli.Exit("fee-rate: BPS must be an integer 0-65535", 2)
					}
					return printRaw(client(c, true).SetFeeRate(c.Context, bps))
				},
			},
			{
				Name:      "fee-recipient",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					addr, err := addressArg(c, 0)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).SetFeeRecipient(c.Context, addr))
				},
			},
			{
				Name:      "transfer-ownership",
				ArgsUsage: "ADDRESS",
				Action: func(c *cli.Context) error {
					addr, err := addressArg(c, 0)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).TransferOwnership(c.Context, addr))
				},
			},
		},
	}
}

func listingCommand() *cli.Command {
	return &cli.Command{
		Name:  "listing",
		Usage: "fixed-price listings",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				ArgsUsage: "ASSET TOKEN",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					return printRaw(client(c, false).Listing(c.Context, asset, id))
				},
			},
			{
				Name:      "all",
				Usage:     "list a collection's active listings",
				ArgsUsage: "ASSET",
				Flags:     []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action: func(c *cli.Context) error {
					asset, err := addressArg(c, 0)
					if err != nil {
						return err
					}
					return printRaw(client(c, false).Listings(c.Context, asset, c.Int("limit")))
				},
			},
			{
				Name:      "create",
				ArgsUsage: "ASSET TOKEN PRICE",
				Action: func(c *cli.Context) error {
					asset, id, price, err := itemAmountArgs(c)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).List(c.Context, asset, id, price))
				},
			},
			{
				Name:      "update",
				ArgsUsage: "ASSET TOKEN PRICE",
				Action: func(c *cli.Context) error {
					asset, id, price, err := itemAmountArgs(c)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).UpdateListing(c.Context, asset, id, price))
				},
			},
			{
				Name:      "cancel",
				ArgsUsage: "ASSET TOKEN",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					return client(c, true).CancelListing(c.Context, asset, id)
				},
			},
			{
				Name:      "buy",
				Usage:     "buy a listed item; any excess over the price is refunded",
				ArgsUsage: "ASSET TOKEN VALUE",
				Action: func(c *cli.Context) error {
					asset, id, value, err := itemAmountArgs(c)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).Buy(c.Context, asset, id, value))
				},
			},
		},
	}
}

func offerCommand() *cli.Command {
	return &cli.Command{
		Name:  "offer",
		Usage: "escrowed offers",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				ArgsUsage: "ASSET TOKEN BUYER",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					buyer, err := addressArg(c, 2)
					if err != nil {
						return err
					}
					return printRaw(client(c, false).Offer(c.Context, asset, id, buyer))
				},
			},
			{
				Name:      "all",
				Usage:     "list the open offers on an item",
				ArgsUsage: "ASSET TOKEN",
				Flags:     []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					return printRaw(client(c, false).Offers(c.Context, asset, id, c.Int("limit")))
				},
			},
			{
				Name:      "make",
				ArgsUsage: "ASSET TOKEN AMOUNT",
				Flags:     []cli.Flag{&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "offer lifetime"}},
				Action: func(c *cli.Context) error {
					asset, id, amount, err := itemAmountArgs(c)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).MakeOffer(c.Context, asset, id, amount, time.Now().Add(c.Duration("ttl"))))
				},
			},
			{
				Name:      "cancel",
				ArgsUsage: "ASSET TOKEN",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					return client(c, true).CancelOffer(c.Context, asset, id)
				},
			},
			{
				Name:      "accept",
				ArgsUsage: "ASSET TOKEN BUYER",
				Action: func(c *cli.Context) error {
					asset, id, err := itemArgs(c)
					if err != nil {
						return err
					}
					buyer, err := addressArg(c, 2)
					if err != nil {
						return err
					}
					return printRaw(client(c, true).AcceptOffer(c.Context, asset, id, buyer))
				},
			},
		},
	}
}

// client builds an API client. Commands that mutate state need a key; a
// missing key fails there with an authorization error.
func client(c *cli.Context, signed bool) *marketapi.Client {
	var signer *crypto.Signer
	if signed {
		s, err := loadSigner(c)
		if err != nil {
			slog.Warn("no usable signing key", slog.String("error", err.Error()))
		} else {
			signer = s
		}
	}
	return marketapi.NewClient(c.String("api"), signer)
}

func loadSigner(c *cli.Context) (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    c.String("key"),
		EncryptedKeyPath: c.String("keyfile"),
		KeyPassword:      c.String("password"),
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(key)
}

func writeEncrypted(path, key, password string) error {
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func printRaw(raw json.RawMessage, err error) error {
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if json.Indent(&out, raw, "", "  ") != nil {
		_, err = os.Stdout.Write(raw)
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(os.Stdout)
	return err
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, cli.Exit(fmt.Sprintf("%q is not a hex address", s), 2)
	}
	return common.HexToAddress(s), nil
}

func addressArg(c *cli.Context, i int) (common.Address, error) {
	return parseAddress(c.Args().Get(i))
}

func amountArg(c *cli.Context, i int) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(c.Args().Get(i))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("%q is not a decimal amount", c.Args().Get(i)), 2)
	}
	return v, nil
}

func itemArgs(c *cli.Context) (common.Address, *uint256.Int, error) {
	asset, err := addressArg(c, 0)
	if err != nil {
		return common.Address{}, nil, err
	}
	id, err := amountArg(c, 1)
	if err != nil {
		return common.Address{}, nil, err
	}
	return asset, id, nil
}

func itemAmountArgs(c *cli.Context) (common.Address, *uint256.Int, *uint256.Int, error) {
	asset, id, err := itemArgs(c)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	amount, err := amountArg(c, 2)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return asset, id, amount, nil
}
