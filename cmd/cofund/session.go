package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cofund/internal/basket"
	"cofund/internal/client"
	"cofund/internal/sessionkey"
	"cofund/internal/transport"
	"cofund/internal/wallet"
)

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "print the wallet and session key addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.Load(flagHome)
			if err != nil {
				return err
			}
			sk, err := sessionkey.Load(flagHome)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wallet:      %s\n", w.Address().Hex())
			fmt.Fprintf(cmd.OutOrStdout(), "session key: %s\n", sk.Address().Hex())
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	var joiner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a session and print the invite code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if joiner == "" {
				return errors.New("missing --joiner")
			}
			return runSession(cmd, func(ctx context.Context, c *client.Client) error {
				code, err := c.CreateSession(ctx, joiner)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invite code (send to the joiner):\n%s\n", code)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&joiner, "joiner", "", "joiner wallet address (0x…)")
	return cmd
}

func joinCmd() *cobra.Command {
	var invite string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "join a session with an invite code",
		RunE: func(cmd *cobra.Command, args []string) error {
			if invite == "" {
				return errors.New("missing --invite")
			}
			return runSession(cmd, func(ctx context.Context, c *client.Client) error {
				return c.JoinWithInvite(ctx, invite)
			})
		},
	}
	cmd.Flags().StringVar(&invite, "invite", "", "invite code from the creator")
	return cmd
}

// runSession wires identity, transport, and client together, runs the
// role-specific setup, then hands the terminal to the interactive loop.
func runSession(cmd *cobra.Command, setup func(context.Context, *client.Client) error) error {
	log := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := wallet.Load(flagHome)
	if err != nil {
		return err
	}
	sk, err := sessionkey.Load(flagHome)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(ctx, flagCoordinator, flagInsecure, log)
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}

	out := cmd.OutOrStdout()
	c, err := client.New(client.Config{
		Conn:       conn,
		Wallet:     w,
		SessionKey: sk,
		Logger:     log,
		OnDeploy: func(doc *basket.Basket) {
			fmt.Fprintln(out, "*** finalization quorum reached — deploying basket ***")
			data, _ := json.MarshalIndent(doc, "", "  ")
			fmt.Fprintln(out, string(data))
		},
		OnUpdate: func(doc *basket.Basket, version uint64) {
			fmt.Fprintf(out, "[update v%d] %d companies, %d fields\n",
				version, len(doc.Companies), len(doc.FormFields))
		},
		OnError: func(err error) {
			log.Warn().Err(err).Msg("protocol error")
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	if err := setup(ctx, c); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return c.Close()
	})
	g.Go(func() error {
		defer stop()
		return repl(ctx, cmd.InOrStdin(), out, c)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func repl(ctx context.Context, in io.Reader, out io.Writer, c *client.Client) error {
	fmt.Fprintln(out, "commands: company <name> | stake <company> <usdc> | field <name> <value> | show | weights | propose | vote yes|no | metrics | quit")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := runCommand(out, c, fields); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

var errQuit = errors.New("quit")

func runCommand(out io.Writer, c *client.Client, fields []string) error {
	switch fields[0] {
	case "company":
		if len(fields) != 2 {
			return errors.New("usage: company <name>")
		}
		return c.AddCompany(fields[1])
	case "stake":
		if len(fields) != 3 {
			return errors.New("usage: stake <company> <usdc>")
		}
		amount, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("bad amount: %w", err)
		}
		return c.SetStake(fields[1], amount)
	case "field":
		if len(fields) < 3 {
			return errors.New("usage: field <name> <value>")
		}
		return c.SetFormField(fields[1], strings.Join(fields[2:], " "))
	case "show":
		doc, version := c.Basket()
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version %d, stage %s\n%s\n", version, c.Stage(), data)
		return nil
	case "weights":
		doc, _ := c.Basket()
		for company, weight := range basket.ComputeWeights(doc) {
			fmt.Fprintf(out, "%-20s %d%%\n", company, weight)
		}
		return nil
	case "propose":
		return c.ProposeFinalization()
	case "vote":
		if len(fields) != 2 || (fields[1] != "yes" && fields[1] != "no") {
			return errors.New("usage: vote yes|no")
		}
		return c.VoteOnFinalization(fields[1] == "yes")
	case "metrics":
		data, err := json.MarshalIndent(c.Metrics(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s", fields[0])
	}
}
