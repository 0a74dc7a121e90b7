package session

// Messages are the user-facing texts the controller produces itself.
type Messages struct {
	DeviceUnavailable   string
	TranscriptionFailed string
	SilenceWarning      string
	Greeting            string
}

var messages = map[string]Messages{
	"ko": {
		DeviceUnavailable:   "마이크를 사용할 수 없습니다. 권한을 확인해 주세요.",
		TranscriptionFailed: "음성을 알아듣지 못했어요. 다시 말씀해 주세요.",
		SilenceWarning:      "목소리가 들리지 않아요. 마이크 가까이에서 말씀해 주세요.",
		Greeting:            "안녕하세요! 저는 케어브릿지 AI 도우미예요. 복지 정보, 일상 도움, 또는 그냥 이야기를 나누고 싶으시면 말씀해 주세요. 어떻게 도와드릴까요?",
	},
	"en": {
		DeviceUnavailable:   "microphone unavailable, check permissions",
		TranscriptionFailed: "could not understand audio, try again",
		SilenceWarning:      "no voice detected, please speak closer to the microphone",
		Greeting:            "Hello! I'm the CareBridge assistant. Ask me about welfare programs, everyday help, or just chat. How can I help you?",
	},
}

// MessagesFor returns the texts for locale, falling back to Korean.
func MessagesFor(locale string) Messages {
	if m, ok := messages[locale]; ok {
		return m
	}
	return messages["ko"]
}
