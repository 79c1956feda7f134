package hibp

import "time"

// Breach describes one breached site. BreachDate is a calendar date
// (YYYY-MM-DD) and is kept as the string the API returns.
type Breach struct {
	Name               string     `json:"Name"`
	Title              string     `json:"Title,omitempty"`
	Domain             string     `json:"Domain,omitempty"`
	BreachDate         string     `json:"BreachDate,omitempty"`
	AddedDate          *time.Time `json:"AddedDate,omitempty"`
	ModifiedDate       *time.Time `json:"ModifiedDate,omitempty"`
	PwnCount           int64      `json:"PwnCount,omitempty"`
	Description        string     `json:"Description,omitempty"`
	DataClasses        []string   `json:"DataClasses,omitempty"`
	IsVerified         bool       `json:"IsVerified,omitempty"`
	IsFabricated       bool       `json:"IsFabricated,omitempty"`
	IsSensitive        bool       `json:"IsSensitive,omitempty"`
	IsRetired          bool       `json:"IsRetired,omitempty"`
	IsSpamList         bool       `json:"IsSpamList,omitempty"`
	IsMalware          bool       `json:"IsMalware,omitempty"`
	IsSubscriptionFree bool       `json:"IsSubscriptionFree,omitempty"`
	IsStealerLog       bool       `json:"IsStealerLog,omitempty"`
	LogoPath           string     `json:"LogoPath,omitempty"`
	Attribution        string     `json:"Attribution,omitempty"`
}

// Paste is a paste-site dump an account appeared in.
type Paste struct {
	Source     string     `json:"Source"`
	ID         string     `json:"Id"`
	Title      string     `json:"Title,omitempty"`
	Date       *time.Time `json:"Date,omitempty"`
	EmailCount int64      `json:"EmailCount"`
}

type SubscriptionStatus struct {
	SubscriptionName string    `json:"SubscriptionName"`
	Description      string    `json:"Description"`
	SubscribedUntil  time.Time `json:"SubscribedUntil"`
	// Rpm is the subscription's requests-per-minute allowance.
	Rpm                             int   `json:"Rpm"`
	DomainSearchMaxBreachedAccounts *int  `json:"DomainSearchMaxBreachedAccounts,omitempty"`
	IncludesStealerLogs             *bool `json:"IncludesStealerLogs,omitempty"`
}

type SubscribedDomain struct {
	DomainName                                          string     `json:"DomainName"`
	PwnCount                                            *int64     `json:"PwnCount,omitempty"`
	PwnCountExcludingSpamLists                          *int64     `json:"PwnCountExcludingSpamLists,omitempty"`
	PwnCountExcludingSpamListsAtLastSubscriptionRenewal *int64     `json:"PwnCountExcludingSpamListsAtLastSubscriptionRenewal,omitempty"`
	NextSubscriptionRenewal                             *time.Time `json:"NextSubscriptionRenewal,omitempty"`
}
