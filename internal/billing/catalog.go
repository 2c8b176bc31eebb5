package billing

import (
	"fmt"
	"os"

	"github.com/portalcore/portalcore/internal/tenant"
	"gopkg.in/yaml.v3"
)

// Price describes what one provider price id grants.
type Price struct {
	Plan tenant.Plan `yaml:"plan"`
	// Seat marks a per-seat price; its quantity is the purchased seat count.
	Seat bool `yaml:"seat"`
}

// Catalog maps provider price ids to plans and seat prices.
type Catalog struct {
	Prices map[string]Price `yaml:"prices"`
	// Checkout lists the price to sell for each plan.
	Checkout map[tenant.Plan]string `yaml:"checkout"`
}

// CatalogConfig is the environment form of a catalog.
type CatalogConfig struct {
	File          string
	ProPriceID    string
	AdvancedPrice string
	SeatPriceID   string
	SeatPricePlan string
}

// LoadCatalog builds a catalog from a YAML file when cfg.File is set,
// otherwise from the individual price ids.
func LoadCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read billing catalog: %w", err)
		}
		return ParseCatalog(data)
	}

	c := &Catalog{Prices: map[string]Price{}, Checkout: map[tenant.Plan]string{}}
	if cfg.ProPriceID != "" {
		c.Prices[cfg.ProPriceID] = Price{Plan: tenant.PlanPro}
		c.Checkout[tenant.PlanPro] = cfg.ProPriceID
	}
	if cfg.AdvancedPrice != "" {
		c.Prices[cfg.AdvancedPrice] = Price{Plan: tenant.PlanAdvanced}
		c.Checkout[tenant.PlanAdvanced] = cfg.AdvancedPrice
	}
	if cfg.SeatPriceID != "" {
		plan, ok := tenant.ParsePlan(cfg.SeatPricePlan)
		if !ok {
			plan = tenant.PlanPro
		}
		c.Prices[cfg.SeatPriceID] = Price{Plan: plan, Seat: true}
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog, e.g.
//
//	prices:
//	  price_pro_monthly: {plan: pro}
//	  price_seat: {plan: pro, seat: true}
//	checkout:
//	  pro: price_pro_monthly
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse billing catalog: %w", err)
	}
	for id, p := range c.Prices {
		plan, ok := tenant.ParsePlan(string(p.Plan))
		if !ok {
			return nil, fmt.Errorf("billing catalog: price %s names unknown plan %q", id, p.Plan)
		}
		p.Plan = plan
		c.Prices[id] = p
	}
	if c.Prices == nil {
		c.Prices = map[string]Price{}
	}
	if c.Checkout == nil {
		c.Checkout = map[tenant.Plan]string{}
	}
	return &c, nil
}

// LineItem is one priced quantity on a subscription.
type LineItem struct {
	PriceID  string
	Quantity int64
}

var planRank = map[tenant.Plan]int{
	tenant.PlanStarter:  0,
	tenant.PlanPro:      1,
	tenant.PlanAdvanced: 2,
}

// Derive returns the plan granted by items, and the seat count when a seat
// price is present. Unknown prices grant nothing; no known price means starter.
func (c *Catalog) Derive(items []LineItem) (tenant.Plan, *int) {
	plan := tenant.PlanStarter
	var seats *int
	for _, item := range items {
		p, ok := c.Prices[item.PriceID]
		if !ok {
			continue
		}
		if planRank[p.Plan] > planRank[plan] {
			plan = p.Plan
		}
		if p.Seat {
			n := int(max(item.Quantity, 1))
			if seats != nil {
				n += *seats
			}
			seats = &n
		}
	}
	return plan, seats
}

// SeatPrice returns the per-seat price sold with plan, if any.
func (c *Catalog) SeatPrice(plan tenant.Plan) (string, bool) {
	for id, p := range c.Prices {
		if p.Seat && p.Plan == plan {
			return id, true
		}
	}
	return "", false
}
