package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"stockbroker/api/grpcclient"
	"stockbroker/domain/order"
)

var (
	addr    string
	timeout time.Duration

	placeStock  int64
	placePrice  int64
	placeName   string
	placeKind   string
	placeVenue  string
	placeSide   string
	placeClient string
)

var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "Place an order on a running broker",
	Long: `Place an order and print the registered order.

Examples:
  stockbroker place --stock 500209 --name Infosys --price 1500 --kind limit --venue nse --side buy
  stockbroker place --stock 500325 --name Reliance --price 2800 --kind market --venue bse --side sell`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req, err := placeRequest()
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *grpcclient.Client) error {
			view, err := c.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}
			return printViews(cmd.OutOrStdout(), []order.View{view})
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <order-id>",
	Short: "Cancel a live order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return errors.Newf("invalid order id %q", args[0])
		}
		return withClient(cmd, func(ctx context.Context, c *grpcclient.Client) error {
			ok, err := c.CancelOrder(ctx, order.ID(id))
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "order %d cancelled\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "order %d not found\n", id)
			}
			return nil
		})
	},
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "List live orders, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *grpcclient.Client) error {
			views, err := c.Dashboard(ctx)
			if err != nil {
				return err
			}
			return printViews(cmd.OutOrStdout(), views)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{placeCmd, cancelCmd, dashboardCmd} {
		c.Flags().StringVar(&addr, "addr", "localhost:50051", "broker gRPC address")
		c.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	}

	f := placeCmd.Flags()
	f.Int64Var(&placeStock, "stock", 0, "stock id")
	f.Int64Var(&placePrice, "price", 0, "price in whole currency units")
	f.StringVar(&placeName, "name", "", "stock name")
	f.StringVar(&placeKind, "kind", "market", "market or limit")
	f.StringVar(&placeVenue, "venue", "nse", "bse or nse")
	f.StringVar(&placeSide, "side", "buy", "buy or sell")
	f.StringVar(&placeClient, "client-order-id", "", "idempotency key (assigned by the broker when empty)")
	_ = placeCmd.MarkFlagRequired("name")
}

func placeRequest() (order.Request, error) {
	kind, err := order.ParseKind(placeKind)
	if err != nil {
		return order.Request{}, err
	}
	venue, err := order.ParseVenue(placeVenue)
	if err != nil {
		return order.Request{}, err
	}
	side, err := order.ParseSide(placeSide)
	if err != nil {
		return order.Request{}, err
	}
	return order.Request{
		Stock:         order.StockRef{ID: placeStock, Price: placePrice, Name: placeName},
		Kind:          kind,
		Venue:         venue,
		Side:          side,
		ClientOrderID: placeClient,
	}, nil
}

func withClient(cmd *cobra.Command, fn func(context.Context, *grpcclient.Client) error) error {
	c, err := grpcclient.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func printViews(w io.Writer, views []order.View) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTOCK\tNAME\tPRICE\tKIND\tVENUE\tSIDE\tCLIENT ID\tCREATED\tDIGEST")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Stock.ID, v.Stock.Name, v.Stock.Price,
			v.Kind, v.Venue, v.Side, v.ClientOrderID,
			v.CreatedAt.Local().Format(time.DateTime), v.Digest)
	}
	if len(views) == 0 {
		fmt.Fprintln(tw, "(no live orders)")
	}
	return tw.Flush()
}
