// ABOUTME: User-facing texts of the chat handler
// ABOUTME: Greeting, topic list, help and reset confirmation, built from contact details

package bot

import (
	"fmt"
	"strings"
)

// Contacts are shown in help text.
type Contacts struct {
	Email   string
	Phone   string
	Website string
}

// DefaultContacts returns the sales contacts.
func DefaultContacts() Contacts {
	return Contacts{
		Email:   "sale@nsc-navi.ru",
		Phone:   "+7 (342) 225-29-58",
		Website: "https://nsc-navi.ru",
	}
}

// Texts holds every fixed reply of the handler.
type Texts struct {
	// Greeting is a format string; %s is replaced by the user's name.
	Greeting    string
	Topics      []string
	Help        string
	ResetDone   string
	DefaultName string
}

// DefaultTexts returns the built-in English texts.
func DefaultTexts(c Contacts) Texts {
	return Texts{
		Greeting: "👋 Welcome to NSC, %s!\n\n" +
			"I can help you learn about GPS/GLONASS vehicle tracking " +
			"and fuel consumption control.\n\n" +
			"What are you interested in?",
		Topics: []string{
			"🚛 Vehicle tracking",
			"⛽ Fuel control",
			"💰 System pricing",
			"🔄 Switching from another system",
			"👤 Talk to a manager",
		},
		Help: fmt.Sprintf("📖 *Available commands:*\n\n"+
			"/start - Start a conversation\n"+
			"/reset - Clear the conversation history\n"+
			"/help - Show this help\n\n"+
			"*Contacts:*\n"+
			"📧 Email: %s\n"+
			"📞 Phone: %s\n"+
			"🌐 Website: %s", c.Email, c.Phone, c.Website),
		ResetDone:   "🔄 Conversation reset. Let's start over!",
		DefaultName: "there",
	}
}

// merge fills empty fields of t from def.
func (t Texts) merge(def Texts) Texts {
	if t.Greeting == "" {
		t.Greeting = def.Greeting
	}
	if len(t.Topics) == 0 {
		t.Topics = def.Topics
	}
	if t.Help == "" {
		t.Help = def.Help
	}
	if t.ResetDone == "" {
		t.ResetDone = def.ResetDone
	}
	if t.DefaultName == "" {
		t.DefaultName = def.DefaultName
	}
	return t
}

// greeting renders the greeting for name followed by one topic per line.
func (t Texts) greeting(name string) string {
	if name == "" {
		name = t.DefaultName
	}
	var b strings.Builder
	if strings.Contains(t.Greeting, "%s") {
		fmt.Fprintf(&b, t.Greeting, name)
	} else {
		b.WriteString(t.Greeting)
	}
	for _, topic := range t.Topics {
		b.WriteString("\n")
		b.WriteString(topic)
	}
	return b.String()
}
