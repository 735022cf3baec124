package processor

import "github.com/fairyhunter13/hh-recruiter-bot/internal/domain"

// turnResponse is the JSON shape the main dialogue-turn LLM call returns.
type turnResponse struct {
	ResponseText  string                `json:"response_text"`
	NewState      domain.DialogueState  `json:"new_state"`
	ExtractedData *domain.ExtractedData `json:"extracted_data"`
}

// citizenshipResponse is the JSON shape of the dedicated citizenship
// classification side-call issued while dialogue_state=awaiting_citizenship.
type citizenshipResponse struct {
	Is          string `json:"is"`
	Citizenship string `json:"citizenship"`
}

// declineConfirmationResponse is the JSON shape of the side-call that
// double-checks a "declined_vacancy" transition before committing to it.
type declineConfirmationResponse struct {
	Answer string `json:"answer"`
}

const (
	standardRejectionReply = "Спасибо! Я передам Вашу анкету для рассмотрения. Если по Вашей анкете будет принято положительное решение с Вами свяжутся в течение трёх рабочих дней."
	standardHandoffReply   = "Спасибо! Я передам Вашу заявку нашим коллегам. Мы свяжемся с Вами в рабочее время, чтобы согласовать время собеседования."
	schedulingCommand      = domain.SystemCommandPrefix + " Кандидат прошел квалификацию. Начни запись на собеседование в Санкт-Петербурге (предложи выбрать день)."
	incompleteFieldsCommand = domain.SystemCommandPrefix + " Анкета кандидата не заполнена полностью. " +
		"Используй историю диалога, чтобы определить, какие из необходимых данных (Возраст, гражданство, готовность выйти на работу, город) кандидат сообщил и верни их в 'extracted_data'. " +
		"Если какие то данные еще не были предоставлены, задай прямой вопрос кандидату (или вежливо переспроси, если кандидат в течении диалога проигнорировал какой то твой вопрос)."
	notDeclinedCommand = domain.SystemCommandPrefix + " Сейчас кандидат не отказывается от вакансии и анкетирования, продолжай дальше."

	citizenshipClassifyPrompt = `Проанализируй сообщения кандидата и верни ответ в формате JSON: {"is": "yes" или "no", "citizenship": "ЕАЭС" или название страны или null}.
Если в сообщениях упомянуто гражданство или страна, верни "is": "yes".
Если информации о гражданстве нет, верни "is": "no".
Россия, Беларусь, Армения, Киргизия или Казахстан — верни "citizenship": "ЕАЭС".
Если указан ВНЖ или РВП России — верни строго "внж рф" или "рвп рф" соответственно.
Иначе верни название страны в "citizenship".`

	declineConfirmPrompt = `Проанализируй диалог и определи: действительно ли кандидат чётко отказался от вакансии? Верни ответ строго в формате JSON: {"answer": "yes" или "no"}. Ответ "yes" — только если кандидат прямо сказал, что вакансия его не интересует. Если есть хоть малейшее сомнение — верни "no".`
)
