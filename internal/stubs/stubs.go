package stubs

import "azo/internal/models"

// SeedUser describes an account created when the database is empty.
type SeedUser struct {
	Username  string
	Email     string
	Password  string
	AvatarURL string
	Status    models.PresenceStatus
}

var Users = []SeedUser{
	{Username: "NeonSkye", Email: "neon@gmail.com", Password: "123", AvatarURL: "https://picsum.photos/seed/u1/200", Status: models.StatusOnline},
	{Username: "PixelWizard", Email: "pixel@gmail.com", Password: "123", AvatarURL: "https://picsum.photos/seed/u2/200", Status: models.StatusAway},
	{Username: "Echo_Stream", Email: "echo@gmail.com", Password: "123", AvatarURL: "https://picsum.photos/seed/u3/200", Status: models.StatusOnline},
	{Username: "Luna_Dev", Email: "luna@gmail.com", Password: "123", AvatarURL: "https://picsum.photos/seed/u4/200", Status: models.StatusDoNotDisturb},
}
