package domain

import (
	"sort"
	"strings"
	"unicode"

	"github.com/smallbiznis/finvo/internal/config"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Score factors, reported alongside the numeric score so reviewers can
// see why a candidate ranked where it did.
const (
	FactorReference = "reference_number"
	FactorAmount    = "exact_amount"
	FactorEmail     = "sender_email"
	FactorName      = "sender_name"
)

// ScoreCandidate rates one open invoice against a notification using
// the configured weights. Factors are independent and additive; the
// sum clips at 100.
func ScoreCandidate(notif TransferNotification, inv *invoicedomain.Invoice, cust CandidateCustomer, w config.MatchWeights) (int, []string) {
	score := 0
	var factors []string

	if referenceMatches(notif.ReferenceNumber, inv.InvoiceNumber) {
		score += w.ReferenceNumber
		factors = append(factors, FactorReference)
	}
	if amountMatches(notif, inv) {
		score += w.ExactAmount
		factors = append(factors, FactorAmount)
	}
	if emailMatches(notif.SenderEmail, cust.Emails) {
		score += w.SenderEmail
		factors = append(factors, FactorEmail)
	}
	if nameMatches(notif.SenderName, cust.Name) || nameMatches(notif.SenderName, cust.BillingName) {
		score += w.SenderName
		factors = append(factors, FactorName)
	}
	if score > maxScore {
		score = maxScore
	}
	return score, factors
}

// RankCandidates scores every candidate and returns the non-zero ones
// ordered best first. Ties order by invoice ID for determinism.
func RankCandidates(notif TransferNotification, invoices []*invoicedomain.Invoice, byCustomer func(*invoicedomain.Invoice) CandidateCustomer, w config.MatchWeights) []MatchCandidate {
	out := make([]MatchCandidate, 0, len(invoices))
	for _, inv := range invoices {
		cust := byCustomer(inv)
		score, factors := ScoreCandidate(notif, inv, cust, w)
		if score <= 0 {
			continue
		}
		out = append(out, MatchCandidate{Invoice: inv, Customer: cust, Score: score, Factors: factors})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Invoice.ID < out[j].Invoice.ID
	})
	return out
}

// referenceMatches folds case and separators; bank feeds routinely
// mangle "INV-2024-0042" into "inv 2024 0042" or embed it in free text.
func referenceMatches(reference, invoiceNumber string) bool {
	ref := normalizeReference(reference)
	num := normalizeReference(invoiceNumber)
	if ref == "" || num == "" {
		return false
	}
	return ref == num || strings.Contains(ref, num)
}

func normalizeReference(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// amountMatches requires the transfer to cover the open balance exactly,
// in the invoice's currency.
func amountMatches(notif TransferNotification, inv *invoicedomain.Invoice) bool {
	if notif.Currency != "" && !strings.EqualFold(notif.Currency, inv.Currency) {
		return false
	}
	return notif.Amount > 0 && notif.Amount == inv.BalanceAmount
}

func emailMatches(sender string, known []string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return false
	}
	for _, email := range known {
		if sender == strings.ToLower(strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

// nameMatches does a diacritic-insensitive token overlap: "Jose Garcia"
// matches "José García S.A." because every sender token appears in the
// customer name.
func nameMatches(sender, customer string) bool {
	senderTokens := nameTokens(sender)
	customerTokens := nameTokens(customer)
	if len(senderTokens) == 0 || len(customerTokens) == 0 {
		return false
	}

	set := make(map[string]struct{}, len(customerTokens))
	for _, t := range customerTokens {
		set[t] = struct{}{}
	}

	overlap := 0
	for _, t := range senderTokens {
		if _, ok := set[t]; ok {
			overlap++
		}
	}
	if overlap == 0 {
		return false
	}

	smaller := len(senderTokens)
	if len(customerTokens) < smaller {
		smaller = len(customerTokens)
	}
	// Every token of the shorter name must appear in the longer one.
	return overlap == smaller
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func nameTokens(s string) []string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		// Single-letter tokens and legal-form noise carry no signal.
		if len(f) < 2 || legalFormToken(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func legalFormToken(s string) bool {
	switch s {
	case "sa", "sl", "srl", "ltd", "llc", "inc", "gmbh", "bv", "pt", "cv", "co", "corp":
		return true
	}
	return false
}
