package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"perq/native/ledger"
	"perq/native/rates"
)

func (c *cli) cardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "List, add or remove loyalty cards",
	}
	cmd.AddCommand(c.cardsListCmd(), c.cardsAddCmd(), c.cardsRemoveCmd())
	return cmd
}

func (c *cli) cardsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cards with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
				cards := eng.ledger.Accounts(ledger.KindCard)
				if cards == nil {
					cards = []ledger.Account{}
				}
				rate := eng.ledger.Rate()
				return c.render(cards, func(w io.Writer) {
					row(w, "ID", "CARD", "NUMBER", "POINTS", "VALUE", "EXPIRES")
					for _, card := range cards {
						row(w,
							card.ID,
							card.Label(),
							ledger.MaskCardNumber(card.Card.Number),
							rates.FormatInteger(card.Points),
							rates.FormatCurrency(card.Value(rate)),
							card.Card.Expiry)
					}
				})
			})
		},
	}
}

func (c *cli) cardsAddCmd() *cobra.Command {
	var in ledger.CardInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a validated card",
		Long: `Add a loyalty card. The CVV is checked and never stored; it is read
from ` + cvvEnvVar + ` or prompted for when not passed with --cvv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.CVV == "" {
				cvv, err := readSecret(cvvEnvVar, "card CVV", cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				in.CVV = cvv
			}
			return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
				card, err := eng.ledger.AddCard(in)
				if err != nil {
					return err
				}
				return c.render(card, func(w io.Writer) {
					row(w, "Added", card.Label())
					row(w, "ID", card.ID)
					row(w, "Number", ledger.MaskCardNumber(card.Card.Number))
					row(w, "Brand", card.Card.Brand)
					row(w, "Points", rates.FormatInteger(card.Points))
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.BankName, "bank", "", "issuing bank")
	f.StringVar(&in.CardType, "type", "", "card product name")
	f.StringVar(&in.HolderName, "holder", "", "cardholder name")
	f.StringVar(&in.Number, "number", "", "card number")
	f.StringVar(&in.Expiry, "expiry", "", "expiry as MM/YY")
	f.StringVar(&in.CVV, "cvv", "", "card verification value")
	f.Int64Var(&in.Points, "points", 0, "opening points balance")
	f.StringVar(&in.Color, "color", "", "display colour")
	return cmd
}

func (c *cli) cardsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <card-id>",
		Short: "Remove a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *engine) error {
				account, ok := eng.ledger.Account(args[0])
				if !ok || account.Kind != ledger.KindCard {
					return fmt.Errorf("card %s: %w", args[0], ledger.ErrAccountNotFound)
				}
				if err := eng.ledger.RemoveAccount(args[0]); err != nil {
					return err
				}
				return c.render(map[string]string{"removed": args[0]}, func(w io.Writer) {
					row(w, "Removed", account.Label())
				})
			})
		},
	}
}
