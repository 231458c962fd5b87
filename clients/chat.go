package clients

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/affect-pipeline/affect"
)

// ChatTimeout bounds one chat request.
const ChatTimeout = 10 * time.Second

// --- Chat (/chat) ---
type ChatReq struct {
	Prompt  string `json:"prompt"`
	Emotion string `json:"emotion,omitempty"`
	Tone    string `json:"tone,omitempty"`
}
type ChatResp struct {
	Content string `json:"content"`
}

// ChatReply is a chat answer and whether it came from the local fallback.
type ChatReply struct {
	Content  string `json:"content"`
	Fallback bool   `json:"fallback"`
}

// fallbackReplies are keyed by the detected emotion or tone.
var fallbackReplies = map[string][]string{
	"happy": {
		"It's great to hear some lightness in what you're sharing. What's been going well?",
		"That sounds encouraging. Would you like to talk more about it?",
	},
	"sad": {
		"I'm sorry things feel heavy right now. I'm here to listen whenever you're ready.",
		"That sounds really hard. Would it help to say more about what's weighing on you?",
	},
	"angry": {
		"It sounds like something has really frustrated you. What happened?",
		"Those feelings make sense. Let's take a breath together and look at it one piece at a time.",
	},
	"fearful": {
		"Feeling anxious can be exhausting. Let's slow down for a moment; what feels most pressing?",
		"You're not alone in this. Can you tell me what's worrying you most?",
	},
	"tense": {
		"It's okay not to have it all figured out. What part feels least clear?",
	},
	"calm": {
		"You seem fairly settled right now. What would you like to focus on?",
	},
	"neutral": {
		"I'm listening. Tell me more about how you're feeling.",
		"Thanks for sharing. What's on your mind today?",
	},
}

// Chat talks to the conversational service and falls back to canned
// replies when it is slow, down or misbehaving.
type Chat struct {
	http *HTTP
	url  string
	log  logrus.FieldLogger
}

// NewChat returns a chat client. An empty url always uses the fallback.
func NewChat(url string, log logrus.FieldLogger) *Chat {
	return &Chat{http: NewHTTPTimeout(ChatTimeout), url: url, log: log}
}

// Reply never fails: any service error yields a canned reply for the mood
// in req.
func (c *Chat) Reply(ctx context.Context, req ChatReq) ChatReply {
	if c.url != "" {
		ctx, cancel := context.WithTimeout(ctx, ChatTimeout)
		defer cancel()

		var out ChatResp
		err := c.http.postJSON(ctx, "chat", c.url+"/chat", req, &out)
		if err == nil && out.Content != "" {
			return ChatReply{Content: out.Content}
		}
		if err == nil {
			err = errors.New("empty reply")
		}
		c.log.WithError(err).Warn("chat service failed; using fallback reply")
	}
	return ChatReply{Content: Fallback(req.Emotion, req.Tone), Fallback: true}
}

// Fallback picks a canned reply, preferring the emotion over the tone.
func Fallback(emotion, tone string) string {
	keys := []string{emotion}
	if t, ok := affect.ParseTone(tone); ok {
		keys = append(keys, string(affect.ToneToEmotion(t)))
	}
	for _, key := range append(keys, string(affect.EmotionNeutral)) {
		if replies := fallbackReplies[key]; len(replies) > 0 {
			return replies[rand.IntN(len(replies))]
		}
	}
	return ""
}
