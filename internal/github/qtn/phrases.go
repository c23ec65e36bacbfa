package qtn

// Replies posted to GitHub.
const (
	phraseNotPull    = "This is not a pull request, I can only do this in a pull request."
	phraseDenied     = "Thanks for your request; @%s please confirm this."
	phraseReadOnly   = "Thanks for your request, but you need write access to this repository to ask me for this."
	phraseStop       = "I'll try to stop the current build, you can follow it [here](%s)."
	phraseHello      = "Hi there! I can `merge`, `deploy` and `release`; say `stop` to abort a running build."
	phraseCommand    = "OK, I'll try to %s. You can check the progress [here](%s)."
	phraseUnknown    = "I'm not sure I understand you. Try `merge`, `deploy`, `release` or `stop`."
	phraseBusy       = "I'm busy with another build right now; say `stop` to abort it."
	phraseBadProfile = "I can't read the profile of this repository, please fix it and ask again:\n\n```\n%s\n```"
)
