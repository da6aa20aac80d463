package template

// Template keys used by the engine.
const (
	KeyWelcome            = "welcome"
	KeyAiReply            = "ai_reply"
	KeyEscalationQueued   = "escalation_queued"
	KeyEscalationCanceled = "escalation_cancelled"
	KeyNoOperators        = "no_operators"
	KeyOperatorAssigned   = "operator_assigned"
	KeyQueueReescalation  = "queue_wait_reescalation"
	KeyClosureOffer       = "closure_offer"
	KeyClosureResumed     = "closure_resumed"
	KeyGoodbye            = "goodbye"
	KeyTicketAskName      = "ticket_ask_name"
	KeyTicketNameInvalid  = "ticket_name_invalid"
	KeyTicketAskContact   = "ticket_ask_contact"
	KeyTicketContactBad   = "ticket_contact_invalid"
	KeyTicketAskNotes     = "ticket_ask_notes"
	KeyTicketNotesAdded   = "ticket_notes_added"
	KeyTicketCreated      = "ticket_created"
	KeyTicketExists       = "ticket_exists"
	KeyTicketCancelled    = "ticket_cancelled"
	KeyNothingToCancel    = "nothing_to_cancel"
	KeyStorageRetry       = "storage_retry"
)

const defaultFallback = "Si è verificato un problema, riprova tra qualche istante."

func defaultTemplates() map[string]Entry {
	texts := map[string]string{
		KeyWelcome:            "Ciao! Sono l'assistente virtuale. Come posso aiutarti?",
		KeyAiReply:            "Ho ricevuto il tuo messaggio. Scrivi \"operatore\" per parlare con un operatore oppure \"ticket\" per aprire una segnalazione.",
		KeyEscalationQueued:   "Ti metto in contatto con un operatore. Sei in coda, attendi qualche istante.",
		KeyEscalationCanceled: "Richiesta operatore annullata. Torno ad ascoltarti.",
		KeyNoOperators:        "Al momento non ci sono operatori disponibili. Vuoi aprire un ticket di assistenza? Scrivi \"ticket\" per iniziare.",
		KeyOperatorAssigned:   "Un operatore ti risponderà a breve.",
		KeyQueueReescalation:  "Ci scusiamo per l'attesa: la tua richiesta è stata segnalata con priorità.",
		KeyClosureOffer:       "Possiamo considerare risolta la tua richiesta? Scrivi \"continua\" per proseguire o \"chiudi\" per terminare.",
		KeyClosureResumed:     "Va bene, l'operatore continuerà ad assisterti.",
		KeyGoodbye:            "Grazie per averci contattato! La conversazione torna all'assistente virtuale.",
		KeyTicketAskName:      "Per aprire un ticket ho bisogno di qualche dato. Come ti chiami? Scrivi \"annulla\" per annullare.",
		KeyTicketNameInvalid:  "Il nome inserito non è valido, riprova. Scrivi \"annulla\" per annullare.",
		KeyTicketAskContact:   "Grazie {name}! Lasciami un recapito (email o telefono).",
		KeyTicketContactBad:   "Il recapito inserito non è valido. Inserisci una email o un numero di telefono.",
		KeyTicketAskNotes:     "Perfetto, ti ricontatteremo a {contact}. Vuoi aggiungere altre informazioni? Scrivi \"no\" per concludere.",
		KeyTicketNotesAdded:   "Annotato. Altro da aggiungere? Scrivi \"no\" per concludere.",
		KeyTicketCreated:      "Il tuo ticket n. {number} è stato creato. Ti ricontatteremo al più presto.",
		KeyTicketExists:       "Hai già un ticket aperto (n. {number}). Un operatore ti ricontatterà.",
		KeyTicketCancelled:    "Richiesta annullata. Torno ad ascoltarti.",
		KeyNothingToCancel:    "Non c'è nulla da annullare.",
		KeyStorageRetry:       "Si è verificato un problema temporaneo, riprova tra qualche istante.",
	}
	entries := make(map[string]Entry, len(texts))
	for key, text := range texts {
		entries[key] = Entry{Text: text}
	}
	return entries
}

func defaultVocabulary() Vocabulary {
	return Vocabulary{
		Cancel:   []string{"annulla", "cancel"},
		Skip:     []string{"no", "basta", ""},
		Escalate: []string{"operatore", "agente", "voglio parlare con operatore"},
		Ticket:   []string{"ticket", "apri ticket", "segnalazione"},
		Continue: []string{"continua", "1"},
		End:      []string{"chiudi", "2"},
	}
}
