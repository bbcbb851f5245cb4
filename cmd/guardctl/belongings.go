package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/intelliguard/internal/custody"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/vision"
	"github.com/your-org/intelliguard/pkg/dto"
)

var belongingsCmd = &cobra.Command{
	Use:   "belongings",
	Short: "Record and query belongings custody",
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Record that an identity left an item at the desk",
	Long: `Record that an identity left an item at the desk.

Examples:
  guardctl belongings checkin --identity 100 --item laptop
  guardctl belongings checkin --identity 100 --item laptop --description "silver, sticker" --photo desk.jpg`,
	Args: cobra.NoArgs,
	RunE: runCheckin,
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Record that an identity took an item back",
	Args:  cobra.NoArgs,
	RunE:  runCheckout,
}

var belongingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custody records, most recent first",
	Long: `List custody records, most recent first.

Examples:
  # Everything currently held at the desk
  guardctl belongings list --status ENTREGADO

  # Full history of one identity
  guardctl belongings list --identity 100`,
	Args: cobra.NoArgs,
	RunE: runBelongingsList,
}

func init() {
	rootCmd.AddCommand(belongingsCmd)
	belongingsCmd.AddCommand(checkinCmd, checkoutCmd, belongingsListCmd)

	for _, c := range []*cobra.Command{checkinCmd, checkoutCmd} {
		c.Flags().String("identity", "", "Identity of the owner (required)")
		c.Flags().String("item", "", "Item type, e.g. laptop (required)")
		c.Flags().Bool("json", false, "Output as JSON")
		_ = c.MarkFlagRequired("identity")
		_ = c.MarkFlagRequired("item")
	}
	checkinCmd.Flags().String("description", "", "Free-form description of the item")
	checkinCmd.Flags().String("photo", "", "Photo of the item to store with the record")

	belongingsListCmd.Flags().String("identity", "", "Only records of this identity")
	belongingsListCmd.Flags().String("status", "", "Only records with this status (ENTREGADO or RETIRADO)")
	belongingsListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCheckin(cmd *cobra.Command, _ []string) error {
	identity := mustGetString(cmd, "identity")
	item := mustGetString(cmd, "item")
	photoPath := mustGetString(cmd, "photo")
	asJSON := mustGetBool(cmd, "json")

	var description *string
	if cmd.Flags().Changed("description") {
		d := mustGetString(cmd, "description")
		description = &d
	}

	var photo []byte
	if photoPath != "" {
		data, err := os.ReadFile(photoPath)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			return err
		}
		if photo, err = vision.EncodeJPEG(img, 90); err != nil {
			return err
		}
	}

	a, err := buildLedgerApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var rec models.CustodyRecord
	if photo != nil {
		rec, err = a.Ledger.CheckInWithPhoto(cmd.Context(), identity, item, description, photo)
	} else {
		rec, err = a.Ledger.CheckIn(cmd.Context(), identity, item, description, "")
	}
	if err != nil {
		return err
	}
	return printRecords([]models.CustodyRecord{rec}, asJSON)
}

func runCheckout(cmd *cobra.Command, _ []string) error {
	identity := mustGetString(cmd, "identity")
	item := mustGetString(cmd, "item")
	asJSON := mustGetBool(cmd, "json")

	a, err := buildLedgerApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Ledger.CheckOut(cmd.Context(), identity, item)
	if err != nil {
		return err
	}
	return printRecords([]models.CustodyRecord{rec}, asJSON)
}

func runBelongingsList(cmd *cobra.Command, _ []string) error {
	asJSON := mustGetBool(cmd, "json")

	var (
		identity *string
		status   *models.CustodyStatus
	)
	if s := strings.TrimSpace(mustGetString(cmd, "identity")); s != "" {
		identity = &s
	}
	if s := mustGetString(cmd, "status"); s != "" {
		st, err := custody.ParseStatus(s)
		if err != nil {
			return err
		}
		status = &st
	}

	a, err := buildLedgerApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.Ledger.Query(cmd.Context(), identity, status)
	if err != nil {
		return err
	}
	return printRecords(recs, asJSON)
}

func printRecords(recs []models.CustodyRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dto.FromRecords(recs))
	}
	if len(recs) == 0 {
		fmt.Println("No records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIDENTITY\tITEM\tSTATUS\tENTERED\tEXITED\tDESCRIPTION")
	for _, r := range recs {
		exited := "-"
		if r.ExitedAt != nil {
			exited = r.ExitedAt.Local().Format(time.DateTime)
		}
		desc := ""
		if r.Description != nil {
			desc = *r.Description
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Identity, r.ItemType, r.Status,
			r.EnteredAt.Local().Format(time.DateTime), exited, desc)
	}
	return w.Flush()
}
