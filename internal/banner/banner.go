package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

const Version = "0.1.0"

func Print() {
	ptermLogo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Traefik", pterm.NewRGB(36, 161, 193)),
		putils.LettersFromStringWithRGB("Lens", pterm.NewRGB(255, 255, 255))).
		Srender()

	pterm.DefaultCenter.Print(ptermLogo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgCyan)).
			WithMargin(5).
			Sprint(pterm.White("TraefikLens - Live Traefik Access Log Dashboard")),
	)

	pterm.Info.Println(
		"Live request metrics, filters and geo breakdown straight from your Traefik access logs." +
			"\nVersion " + Version + ".",
	)
}
