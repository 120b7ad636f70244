package billing

// Minimal views of the Stripe objects the webhook reads. Decoding only what is
// needed keeps the handler tolerant of API version drift.

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (c checkoutSessionObject) userID() string {
	if c.ClientReferenceID != "" {
		return c.ClientReferenceID
	}
	if id := c.Metadata["supabase_user_id"]; id != "" {
		return id
	}
	return c.Metadata["user_id"]
}

func (c checkoutSessionObject) email() string {
	if c.CustomerDetails.Email != "" {
		return c.CustomerDetails.Email
	}
	return c.CustomerEmail
}

type invoiceObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	CustomerEmail     string            `json:"customer_email"`
	Lines             struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (i invoiceObject) userID() string {
	if i.ClientReferenceID != "" {
		return i.ClientReferenceID
	}
	if id := i.Metadata["supabase_user_id"]; id != "" {
		return id
	}
	return i.Metadata["user_id"]
}

func (i invoiceObject) periodEnd() int64 {
	var end int64
	for _, line := range i.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}

type subscriptionObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	TrialEnd         int64  `json:"trial_end"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd prefers the item-level period, where current API versions put it.
func (s subscriptionObject) periodEnd() int64 {
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		return s.Items.Data[0].CurrentPeriodEnd
	}
	return s.CurrentPeriodEnd
}

func (s subscriptionObject) interval() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.Recurring.Interval
}
