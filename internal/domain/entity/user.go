package entity

// UserState состояние пользователя в диалоге
type UserState string

const (
	StateMainMenu            UserState = "main_menu"             // В главном меню
	StateAwaitingPhoto       UserState = "awaiting_photo"        // Ожидание фото объекта
	StateAwaitingOutfitPhoto UserState = "awaiting_outfit_photo" // Ожидание фото аксессуара
	StateProcessing          UserState = "processing"            // Идёт преобразование
)

// User представляет пользователя бота
type User struct {
	ID     int64          // Telegram User ID
	ChatID int64          // Telegram Chat ID
	State  UserState      // Текущее состояние пользователя
	Outfit OutfitCategory // Выбранная категория аксессуара, если есть
}

// NewUser создаёт нового пользователя с начальным состоянием
func NewUser(userID, chatID int64) *User {
	return &User{
		ID:     userID,
		ChatID: chatID,
		State:  StateMainMenu,
	}
}

// SetState обновляет состояние пользователя
func (u *User) SetState(state UserState) {
	u.State = state
}

// ChooseOutfit запоминает категорию и ждёт фото аксессуара
func (u *User) ChooseOutfit(category OutfitCategory) {
	u.Outfit = category
	u.State = StateAwaitingOutfitPhoto
}

// Reset возвращает пользователя в главное меню
func (u *User) Reset() {
	u.Outfit = ""
	u.State = StateMainMenu
}
