package model

// User is the authenticated identity returned by the API.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

func (u User) Author() Author {
	return Author{ID: u.UID, Name: u.DisplayName, Avatar: u.PhotoURL}
}

// Profile is the public record stored under users/{uid}.
type Profile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ColorPair is one saved theme under users/{uid}/colors.
type ColorPair struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

const (
	DefaultPrimaryColor   = "#4c3c4c"
	DefaultSecondaryColor = "#eee"
)
