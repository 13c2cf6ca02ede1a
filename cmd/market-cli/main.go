// market-cli is the operator tool for the marketplace broker. It speaks the
// TCP wire protocol for market operations (list, buy, sell, watch) and the
// monitor HTTP API for status.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"market-broker/internal/client"
	"market-broker/internal/monitor"
	"market-broker/pkg/wire"
)

var (
	// Global flags
	brokerAddr string
	monitorURL string
	timeout    time.Duration
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "market-cli",
		Short: "Operator tool for the marketplace broker",
		Long: `market-cli talks to a running broker over its TCP protocol.

Examples:
  market-cli list
  market-cli buy --item sale_seller-9f3acc01_1 --qty 25
  market-cli sell start --item flower --qty 100 --duration 45s
  market-cli sell end
  market-cli watch
  market-cli status`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&brokerAddr, "addr", "127.0.0.1:5000", "broker TCP address")
	rootCmd.PersistentFlags().StringVar(&monitorURL, "monitor", "http://127.0.0.1:5050", "monitor HTTP base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newBuyCommand())
	rootCmd.AddCommand(newSellCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}

// dial connects with the given role, bounded by the global timeout.
func dial(role wire.Role) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	c, err := client.Dial(ctx, brokerAddr, role, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the sales currently on the floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(wire.RoleBuyer)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			items, err := c.ListItems(ctx)
			if err != nil {
				return fmt.Errorf("list items: %w", err)
			}

			if len(items) == 0 {
				fmt.Println("no active sales")
				return nil
			}
			fmt.Printf("%-32s %-10s %12s %12s  %s\n", "ID", "NAME", "QUANTITY", "EXPIRES IN", "SELLER")
			for _, it := range items {
				fmt.Printf("%-32s %-10s %12s %12s  %s\n",
					it.ID, it.Name, it.Quantity,
					(time.Duration(it.RemainingTime) * time.Millisecond).Round(time.Second),
					it.SellerID,
				)
			}
			return nil
		},
	}
}

func newBuyCommand() *cobra.Command {
	var (
		itemID string
		qtyStr string
	)
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy from an active sale",
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(qtyStr)
			if err != nil {
				return fmt.Errorf("invalid --qty %q: %w", qtyStr, err)
			}

			c, err := dial(wire.RoleBuyer)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			res, err := c.Buy(ctx, itemID, qty)
			if err != nil {
				return fmt.Errorf("buy: %w", err)
			}

			if !res.Success {
				fmt.Printf("✗ refused: %s x%s (sold out, expired, or unknown)\n", itemID, qty)
				return nil
			}
			fmt.Printf("✓ bought %s x%s\n", res.ItemID, res.Quantity)
			return nil
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "sale id to buy from")
	cmd.Flags().StringVar(&qtyStr, "qty", "", "quantity to buy")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("qty")
	return cmd
}

func newSellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Seller operations",
	}
	cmd.AddCommand(newSellStartCommand())
	cmd.AddCommand(newSellEndCommand())
	return cmd
}

func newSellStartCommand() *cobra.Command {
	var (
		item     string
		qtyStr   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Put a catalog item up for sale",
		Long: `Opens a timed sale from a fresh seller session's stock.

The sale outlives this command: it keeps selling until its deadline even
though the session disconnects, and the unsold remainder is credited back
to this seller's ledger when it expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(qtyStr)
			if err != nil {
				return fmt.Errorf("invalid --qty %q: %w", qtyStr, err)
			}

			c, err := dial(wire.RoleSeller)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			res, err := c.StartSale(ctx, item, qty, duration)
			if err != nil {
				return fmt.Errorf("start sale: %w", err)
			}

			fmt.Printf("✓ sale opened\n")
			fmt.Printf("  ID:        %s\n", res.ItemID)
			fmt.Printf("  Item:      %s\n", res.Name)
			fmt.Printf("  Quantity:  %s\n", res.Quantity)
			fmt.Printf("  Expires:   %s\n", (time.Duration(res.RemainingTime) * time.Millisecond).Round(time.Second))
			fmt.Printf("  Seller:    %s\n", c.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&item, "item", "", "catalog item to sell (flower, sugar, potato, oil)")
	cmd.Flags().StringVar(&qtyStr, "qty", "", "quantity to put up")
	cmd.Flags().DurationVar(&duration, "duration", 0, "sale duration (default: broker's configured default)")
	cmd.MarkFlagRequired("item")
	cmd.MarkFlagRequired("qty")
	return cmd
}

func newSellEndCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "Close all sales of a fresh seller session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(wire.RoleSeller)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			res, err := c.EndSales(ctx)
			if err != nil {
				return fmt.Errorf("end sales: %w", err)
			}
			fmt.Printf("✓ closed %d sale(s)\n", res.Closed)
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream market broadcasts until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(wire.RoleBuyer)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("watching as %s; Ctrl-C to stop\n", c.ID())
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-c.Broadcasts():
					printBroadcast(msg)
				}
			}
		},
	}
}

func printBroadcast(msg wire.Message) {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	switch msg.Type {
	case wire.TypeSaleStart:
		var ann wire.SaleStartAnnounce
		if msg.DecodeInto(&ann) == nil {
			fmt.Printf("%s SALE_START    item=%s seller=%s\n", ts, ann.ItemID, ann.SellerID)
			return
		}
	case wire.TypeSaleEnd:
		var list wire.ItemList
		if msg.DecodeInto(&list) == nil {
			fmt.Printf("%s SALE_END      %d sale(s) remain\n", ts, len(list.Items))
			return
		}
	case wire.TypeStockUpdate:
		var list wire.ItemList
		if msg.DecodeInto(&list) == nil {
			fmt.Printf("%s STOCK_UPDATE  %d active sale(s)\n", ts, len(list.Items))
			for _, it := range list.Items {
				fmt.Printf("%s               %s %s x%s\n", ts, it.ID, it.Name, it.Quantity)
			}
			return
		}
	}
	fmt.Printf("%s %-13s %s\n", ts, msg.Type, string(msg.Data))
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show broker status via the monitor API",
		RunE: func(cmd *cobra.Command, args []string) error {
			http := resty.New().
				SetBaseURL(monitorURL).
				SetTimeout(timeout)

			var snap monitor.BrokerSnapshot
			resp, err := http.R().SetResult(&snap).Get("/api/snapshot")
			if err != nil {
				return fmt.Errorf("fetch snapshot: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("monitor returned %s", resp.Status())
			}

			fmt.Println("✓ broker is up")
			fmt.Printf("  Port:         %d\n", snap.Config.Port)
			fmt.Printf("  Buyers:       %d\n", snap.Totals.Buyers)
			fmt.Printf("  Sellers:      %d\n", snap.Totals.Sellers)
			fmt.Printf("  Active sales: %d\n", snap.Totals.ActiveSales)

			if len(snap.Items) > 0 {
				fmt.Println("  Sales:")
				for _, it := range snap.Items {
					fmt.Printf("    %-32s %-10s x%s (seller %s)\n", it.ID, it.Name, it.Quantity, it.SellerID)
				}
			}
			if len(snap.Ledgers) > 0 {
				fmt.Println("  Ledgers:")
				for seller, kinds := range snap.Ledgers {
					fmt.Printf("    %s:", seller)
					for kind, quantity := range kinds {
						fmt.Printf(" %s=%s", kind, quantity)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}
}
