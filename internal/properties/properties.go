package properties

import (
	"os"
	"path/filepath"
)

func RootPath() string {
	return os.Getenv("ROOT_PATH")
}

// DataPath joins elem under <ROOT_PATH>/data.
func DataPath(elem ...string) string {
	return filepath.Join(append([]string{RootPath(), "data"}, elem...)...)
}

func CopernicusClientID() string {
	return os.Getenv("COPERNICUS_CLIENT_ID")
}

func CopernicusClientSecret() string {
	return os.Getenv("COPERNICUS_CLIENT_SECRET")
}

func CopernicusTokenURL() string {
	return os.Getenv("COPERNICUS_TOKEN_URL")
}

func DiscordErrorNotificationUrl() string {
	return os.Getenv("DISCORD_ERROR_NOTIFICATION_URL")
}

func DiscordSuccessNotificationUrl() string {
	return os.Getenv("DISCORD_SUCCESS_NOTIFICATION_URL")
}

type Color struct {
	R, G, B uint8
}

// ColorMap holds the fixed colours of categorical map layers.
var ColorMap = map[string]Color{
	"aoi":     {0, 0, 255},
	"loss":    {255, 0, 0},
	"no_data": {0, 0, 0},
}
