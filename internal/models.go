package internal

import (
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityShare   Visibility = "SHARE"
)

type SplashDesign string

const (
	SplashMinimal SplashDesign = "minimal"
	SplashBranded SplashDesign = "branded"
	SplashCompany SplashDesign = "company"
)

// DefaultSplashDelay is used when a link enables the splash page without a delay.
const DefaultSplashDelay = 3

// Branding is only read by the branded and company splash designs.
type Branding struct {
	CompanyName  string `gorm:"type:varchar(120)" json:"companyName,omitempty"`
	LogoURL      string `gorm:"type:text" json:"logoUrl,omitempty"`
	HeroImageURL string `gorm:"type:text" json:"heroImageUrl,omitempty"`
	CallToAction string `gorm:"type:varchar(120)" json:"callToAction,omitempty"`
	IconURL      string `gorm:"type:text" json:"iconUrl,omitempty"`
}

// Link maps a short code to a destination. Short codes are only unique among
// the active links of one owner, so short_code carries a plain index.
type Link struct {
	ID                 int64        `gorm:"primaryKey;type:bigint;autoIncrement:false" json:"id,string"`
	OwnerID            string       `gorm:"type:varchar(64);not null;index:idx_links_owner_code,priority:1" json:"ownerId"`
	ShortCode          string       `gorm:"type:varchar(64);not null;index:idx_links_short_code;index:idx_links_owner_code,priority:2" json:"shortCode"`
	Name               string       `gorm:"type:varchar(200)" json:"name"`
	RedirectTo         string       `gorm:"type:text;not null" json:"redirectTo"`
	IsPaused           bool         `gorm:"not null;default:false" json:"isPaused"`
	ActiveFrom         *time.Time   `json:"activeFrom"`
	ActiveUntil        *time.Time   `json:"activeUntil"`
	Visibility         Visibility   `gorm:"type:varchar(16);not null;default:PUBLIC" json:"visibility"`
	PasswordHash       *string      `gorm:"type:varchar(100)" json:"-"`
	UseSplashPage      bool         `gorm:"not null;default:false" json:"useSplashPage"`
	SplashDesign       SplashDesign `gorm:"type:varchar(16);not null;default:minimal" json:"splashDesign"`
	SplashDelaySeconds int          `gorm:"not null;default:3" json:"splashDelaySeconds"`
	Branding           Branding     `gorm:"embedded;embeddedPrefix:brand_" json:"branding"`
	ClickCount         int64        `gorm:"not null;default:0" json:"clickCount"`
	BatchID            *int64       `gorm:"type:bigint;index" json:"batchId,omitempty"`
	Clicks             []Click      `gorm:"foreignKey:LinkID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// HasPassword reports whether the link is gated behind a password.
func (l *Link) HasPassword() bool {
	return l.Visibility == VisibilityPrivate && l.PasswordHash != nil && *l.PasswordHash != ""
}

// Click is one resolved visit. Rows are append-only.
type Click struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LinkID    int64     `gorm:"type:bigint;not null;index" json:"linkId,string"`
	ClickedAt time.Time `gorm:"not null;index" json:"clickedAt"`
	IPAddress string    `gorm:"type:varchar(64)" json:"ipAddress,omitempty"`
	UserAgent string    `gorm:"type:text" json:"userAgent,omitempty"`
	Referrer  string    `gorm:"type:text" json:"referrer,omitempty"`
	Country   string    `gorm:"type:varchar(2);index" json:"country,omitempty"`
}

type Batch struct {
	ID        int64     `gorm:"primaryKey;type:bigint;autoIncrement:false" json:"id,string"`
	OwnerID   string    `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	Links     []Link    `gorm:"foreignKey:BatchID;constraint:OnDelete:SET NULL" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
