package model

import (
	"errors"
	"sort"
)

var (
	ErrUnknownSummaryStyle  = errors.New("unknown summary style")
	ErrUnknownSummaryLength = errors.New("unknown summary length")
)

type SummaryStyle string

const (
	SummaryStyleNarrative    SummaryStyle = "narrative"
	SummaryStyleBulletPoints SummaryStyle = "bullet_points"
	SummaryStyleKeyInsights  SummaryStyle = "key_insights"
	SummaryStyleActionable   SummaryStyle = "actionable"
)

type SummaryLength string

const (
	SummaryLengthShort  SummaryLength = "short"
	SummaryLengthMedium SummaryLength = "medium"
	SummaryLengthLong   SummaryLength = "long"
)

const ChatMessageCost int64 = 2

// summaryCosts is the style x length price matrix in credits. It must stay a
// constant table: the displayed cost and the charged cost read the same entry.
var summaryCosts = map[SummaryStyle]map[SummaryLength]int64{
	SummaryStyleNarrative: {
		SummaryLengthShort:  10,
		SummaryLengthMedium: 20,
		SummaryLengthLong:   35,
	},
	SummaryStyleBulletPoints: {
		SummaryLengthShort:  8,
		SummaryLengthMedium: 15,
		SummaryLengthLong:   25,
	},
	SummaryStyleKeyInsights: {
		SummaryLengthShort:  8,
		SummaryLengthMedium: 15,
		SummaryLengthLong:   25,
	},
	SummaryStyleActionable: {
		SummaryLengthShort:  12,
		SummaryLengthMedium: 22,
		SummaryLengthLong:   38,
	},
}

func SummaryCreditCost(style SummaryStyle, length SummaryLength) (int64, error) {
	byLength, ok := summaryCosts[style]
	if !ok {
		return 0, ErrUnknownSummaryStyle
	}
	cost, ok := byLength[length]
	if !ok {
		return 0, ErrUnknownSummaryLength
	}
	return cost, nil
}

func ChatMessageCreditCost() int64 {
	return ChatMessageCost
}

type SummaryCost struct {
	Style  SummaryStyle  `json:"style"`
	Length SummaryLength `json:"length"`
	Cost   int64         `json:"cost"`
}

type CostTable struct {
	Summaries   []SummaryCost `json:"summaries"`
	ChatMessage int64         `json:"chat_message"`
}

// Costs returns the full price list in a stable order.
func Costs() CostTable {
	table := CostTable{ChatMessage: ChatMessageCost}
	for style, byLength := range summaryCosts {
		for length, cost := range byLength {
			table.Summaries = append(table.Summaries, SummaryCost{Style: style, Length: length, Cost: cost})
		}
	}
	sort.Slice(table.Summaries, func(i, j int) bool {
		a, b := table.Summaries[i], table.Summaries[j]
		if a.Style != b.Style {
			return a.Style < b.Style
		}
		return a.Cost < b.Cost
	})
	return table
}
