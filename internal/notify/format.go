package notify

import (
	"fmt"
	"html"

	"github.com/p-n-ai/pai-study/internal/badge"
)

// KindBadgeAwarded tags badge notifications.
const KindBadgeAwarded = "badge_awarded"

// BadgeMessage builds the notification for a newly earned badge.
func BadgeMessage(userID, email string, b badge.Badge) Message {
	icon := badge.Icon(b)
	return Message{
		UserID:  userID,
		Email:   email,
		Subject: fmt.Sprintf("New Badge Earned: %s", b),
		HTML: fmt.Sprintf("<h2>%s Congratulations!</h2><p>You earned the <strong>%s</strong> badge. Keep going!</p>",
			icon, html.EscapeString(string(b))),
		Text: fmt.Sprintf("%s You earned the %s badge!", icon, b),
		Kind: KindBadgeAwarded,
		Data: map[string]any{"badge": string(b), "icon": icon},
	}
}
