package entity

// AiDescription текстовое описание модели, полученное от языковой модели
type AiDescription struct {
	Text  string // описание для пользователя
	Model string // имя модели, сгенерировавшей текст
}
