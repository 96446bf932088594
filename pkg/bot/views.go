package bot

import "fmt"

// Reply texts. Kept in one place so the wording stays consistent across
// handlers.

func welcomeText() string {
	return "👋 Hi! Send me any text and I'll answer with a voice message.\n\n" +
		"Use /help to see the speech markup I understand."
}

func helpText() string {
	return "🎙 Speech markup:\n\n" +
		"Pauses:\n" +
		"  word | word — short pause (comma)\n" +
		"  word || word — medium pause (semicolon)\n" +
		"  word ||| word — long pause (period)\n" +
		"  word |0.5| word — pause of given seconds\n" +
		"  <break time=\"0.5s\"/> — SSML-style pause\n\n" +
		"Stress:\n" +
		"  sl'ovo — apostrophe before the stressed part\n" +
		"  sl[o]vo or sl{o}vo — bracketed stressed fragment\n\n" +
		"Commands:\n" +
		"  /start — greeting\n" +
		"  /help — this message"
}

func emptyTextReply() string {
	return "🔇 There is nothing to voice. Send me some text."
}

func unknownCommandReply(name string) string {
	return fmt.Sprintf("❓ Unknown command: /%s\nUse /help for the command list.", name)
}

func synthesisErrorReply(err error) string {
	return fmt.Sprintf("⚠️ Could not generate the voice message: %v", err)
}
