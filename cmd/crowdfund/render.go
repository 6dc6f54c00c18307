package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/services/browser"
	"crowdfund/services/orchestrator"
)

// render prints v as indented JSON under --json, otherwise through text.
func (a *app) render(v any, text func(io.Writer)) error {
	if a.g.jsonOut {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.stdout)
	return nil
}

type resultOutput struct {
	Attempt    string          `json:"attempt"`
	Action     campaign.Action `json:"action"`
	Target     string          `json:"target"`
	TxHashes   []string        `json:"tx_hashes"`
	View       *campaign.View  `json:"view,omitempty"`
	RefreshErr string          `json:"refresh_error,omitempty"`
}

func (a *app) renderResult(result orchestrator.Result) error {
	out := resultOutput{
		Attempt: result.AttemptID,
		Action:  result.Action,
		Target:  result.Target.Hex(),
	}
	for _, h := range result.TxHashes {
		out.TxHashes = append(out.TxHashes, h.Hex())
	}
	out.View = result.View
	if result.RefreshErr != nil {
		out.RefreshErr = result.RefreshErr.Error()
	}
	return a.render(out, func(w io.Writer) { writeResult(w, result) })
}

func writeResult(w io.Writer, result orchestrator.Result) {
	fmt.Fprintf(w, "%s confirmed (attempt %s)\n", result.Action, result.AttemptID)
	for _, h := range result.TxHashes {
		fmt.Fprintf(w, "  tx %s\n", h.Hex())
	}
	switch {
	case result.View != nil:
		v := result.View
		fmt.Fprintf(w, "%s is now %s: %s of %s raised (%d%%)\n",
			v.Name, v.Status.Label(), amount.FormatForDisplay(v.TotalRaised), amount.FormatForDisplay(v.Goal), v.ProgressPercent)
	case result.RefreshErr != nil:
		fmt.Fprintf(w, "could not reload the campaign: %v\n", result.RefreshErr)
	}
}

func writeViews(w io.Writer, views []campaign.View) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No campaigns found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tSTATUS\tRAISED\tGOAL\tPROGRESS\tDEADLINE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			campaign.ShortAddress(v.Address),
			truncate(v.Name, 32),
			v.Status.Label(),
			amount.FormatForDisplay(v.TotalRaised),
			amount.FormatForDisplay(v.Goal),
			v.ProgressPercent,
			campaign.DeadlineLabel(v),
		)
	}
	tw.Flush()
}

func writeDonations(w io.Writer, donated []browser.Donated) {
	if len(donated) == 0 {
		fmt.Fprintln(w, "No donations found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tSTATUS\tDONATED\tPROGRESS\tDEADLINE")
	for _, d := range donated {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			campaign.ShortAddress(d.View.Address),
			truncate(d.View.Name, 32),
			d.View.Status.Label(),
			amount.FormatForDisplay(d.Donation),
			d.View.ProgressPercent,
			campaign.DeadlineLabel(d.View),
		)
	}
	tw.Flush()
}

func writeDetail(w io.Writer, d browser.Detail, actor *common.Address) {
	v := d.View
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", v.Name)
	fmt.Fprintf(tw, "Address:\t%s\n", v.Address.Hex())
	fmt.Fprintf(tw, "Creator:\t%s\n", v.Creator.Hex())
	fmt.Fprintf(tw, "Status:\t%s\n", v.Status.Label())
	fmt.Fprintf(tw, "Raised:\t%s of %s (%d%%)\n", amount.FormatForDisplay(v.TotalRaised), amount.FormatForDisplay(v.Goal), v.ProgressPercent)
	fmt.Fprintf(tw, "Deadline:\t%s (%s)\n", campaign.FormatDeadline(v.Deadline), v.TimeRemaining)
	fmt.Fprintf(tw, "Platform fee:\t%s%%\n", bpsPercent(v.FeeBps))
	if actor != nil {
		fmt.Fprintf(tw, "Account:\t%s\n", actor.Hex())
		fmt.Fprintf(tw, "Your donation:\t%s\n", amount.FormatForDisplay(d.Donation))
		fmt.Fprintf(tw, "Available actions:\t%s\n", actionList(d.Actions))
	}
	if d.IsCreator && d.Actions.CanWithdraw {
		fmt.Fprintf(tw, "Withdrawal:\t%s fee, %s to you\n", amount.FormatForDisplay(d.Preview.Fee), amount.FormatForDisplay(d.Preview.Net))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%s\n", v.Description)
}

func writeHistory(w io.Writer, entries []orchestrator.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No attempts recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tACTION\tCAMPAIGN\tAMOUNT\tOUTCOME\tDETAIL")
	for _, e := range entries {
		detail := e.Reason
		if detail == "" && len(e.TxHashes) > 0 {
			detail = e.TxHashes[len(e.TxHashes)-1]
		}
		amt := e.Amount
		if amt == "" {
			amt = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.StartedAt.Format("2006-01-02 15:04:05"),
			e.Action,
			campaign.ShortAddress(common.HexToAddress(e.Target)),
			amt,
			e.Outcome,
			detail,
		)
	}
	tw.Flush()
}

func actionList(set campaign.ActionSet) string {
	var names []string
	for _, action := range []campaign.Action{campaign.ActionDonate, campaign.ActionWithdraw, campaign.ActionCancel, campaign.ActionRefund} {
		if set.Allows(action) {
			names = append(names, string(action))
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func bpsPercent(bps uint16) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%d.%02d", bps/100, bps%100), "0"), ".")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
