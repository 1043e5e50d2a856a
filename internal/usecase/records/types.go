package records

import "time"

// Attendee is one row of the attendee roster as exposed to the UI. Secret
// fields (access codes, QR secrets) are stripped before records ever reach
// the client store, so they have no place here.
type Attendee struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Company   string `json:"company"`
	Title     string `json:"title"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// AgendaSession is one agenda slot. "Now/next" views derive from StartsAt
// and EndsAt.
type AgendaSession struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Track       string    `json:"track"`
	Room        string    `json:"room"`
	Speaker     string    `json:"speaker"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

type Sponsor struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Tier    string `json:"tier"`
	LogoURL string `json:"logo_url"`
	Website string `json:"website"`
}

// Seat is one seating assignment.
type Seat struct {
	ID         int64  `json:"id"`
	AttendeeID int64  `json:"attendee_id"`
	Table      string `json:"table_name"`
	Seat       string `json:"seat"`
}

// Profile is the current attendee's own record, with fields regular roster
// rows do not carry.
type Profile struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Company  string `json:"company"`
	Email    string `json:"email"`
	Dietary  string `json:"dietary"`
	Interest string `json:"interests"`
}
